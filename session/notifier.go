package session

import "sync"

// Notifier fans out state-change signals to subscribers: per-conversation
// change callbacks plus a global busy flag covering all outstanding work.
//
// Notifier is an explicit object with a defined lifecycle (created with the
// client, Reset on close or logout) rather than package-level state, so tests
// stay isolated. Safe for concurrent use; callbacks are invoked outside the
// internal lock and must not block for long.
type Notifier struct {
	mu       sync.Mutex
	nextSub  int
	subs     map[int64]map[int]func()
	busySubs map[int]func(bool)
	busy     int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subs:     make(map[int64]map[int]func()),
		busySubs: make(map[int]func(bool)),
	}
}

// Subscribe registers fn to run whenever the conversation's state changes.
// The returned function removes the subscription; calling it more than once
// is harmless.
func (n *Notifier) Subscribe(convID int64, fn func()) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextSub++
	id := n.nextSub
	if n.subs[convID] == nil {
		n.subs[convID] = make(map[int]func())
	}
	n.subs[convID][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[convID], id)
	}
}

// Notify invokes the current subscribers for a conversation.
func (n *Notifier) Notify(convID int64) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[convID]))
	for _, fn := range n.subs[convID] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SubscribeBusy registers fn to run when the global busy flag flips. The
// returned function removes the subscription.
func (n *Notifier) SubscribeBusy(fn func(busy bool)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextSub++
	id := n.nextSub
	n.busySubs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.busySubs, id)
	}
}

// BeginWork increments the busy counter, signaling busy subscribers on the
// idle-to-busy transition.
func (n *Notifier) BeginWork() {
	n.signalBusy(1)
}

// EndWork decrements the busy counter, signaling busy subscribers on the
// busy-to-idle transition. Calls must pair with BeginWork.
func (n *Notifier) EndWork() {
	n.signalBusy(-1)
}

// Busy reports whether any work is outstanding.
func (n *Notifier) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.busy > 0
}

func (n *Notifier) signalBusy(delta int) {
	n.mu.Lock()
	before := n.busy > 0
	n.busy += delta
	if n.busy < 0 {
		n.busy = 0
	}
	after := n.busy > 0
	var fns []func(bool)
	if before != after {
		fns = make([]func(bool), 0, len(n.busySubs))
		for _, fn := range n.busySubs {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(after)
	}
}

// Reset drops all subscriptions and clears the busy counter. Called on
// client close or logout.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[int64]map[int]func())
	n.busySubs = make(map[int]func(bool))
	n.busy = 0
}
