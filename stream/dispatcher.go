package stream

// Handlers holds one optional callback per event kind. Nil callbacks mean the
// caller is not interested in that kind.
type Handlers struct {
	OnToken        func(text string)
	OnStep         func(label string)
	OnToolStart    func(name string)
	OnToolEnd      func(name, result string)
	OnMessage      func(id int64)
	OnAgentMessage func(id int64)
	OnDone         func(threadID int64)
	OnError        func(reason string)
}

// Dispatcher routes decoded events to the matching callback. It performs no
// buffering or ordering of its own, trusting the Decoder's ordering, and
// holds no state beyond the handler set, so side effects are entirely
// caller-supplied.
type Dispatcher struct {
	handlers Handlers
}

// NewDispatcher creates a dispatcher for the given handler set.
func NewDispatcher(h Handlers) *Dispatcher {
	return &Dispatcher{handlers: h}
}

// Dispatch invokes exactly one callback for ev. Malformed and unknown kinds,
// and kinds without a registered callback, are ignored.
func (d *Dispatcher) Dispatch(ev Event) {
	switch ev.Kind {
	case KindToken:
		if d.handlers.OnToken != nil {
			d.handlers.OnToken(ev.Text)
		}
	case KindStep:
		if d.handlers.OnStep != nil {
			d.handlers.OnStep(ev.Step)
		}
	case KindToolStart:
		if d.handlers.OnToolStart != nil {
			d.handlers.OnToolStart(ev.Tool)
		}
	case KindToolEnd:
		if d.handlers.OnToolEnd != nil {
			d.handlers.OnToolEnd(ev.Tool, ev.Result)
		}
	case KindMessage:
		if d.handlers.OnMessage != nil {
			d.handlers.OnMessage(ev.MessageID)
		}
	case KindAgentMessage:
		if d.handlers.OnAgentMessage != nil {
			d.handlers.OnAgentMessage(ev.MessageID)
		}
	case KindDone:
		if d.handlers.OnDone != nil {
			d.handlers.OnDone(ev.ThreadID)
		}
	case KindError:
		if d.handlers.OnError != nil {
			d.handlers.OnError(ev.Reason)
		}
	}
}
