package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/koopa0/agentstream/internal/log"
	"github.com/koopa0/agentstream/stream"
)

// State is the phase of a conversation's send attempt.
type State int

// Send attempt states. A healthy attempt moves from Idle through Sending,
// Streaming and Reconciling back to Idle; Errored is reachable from Sending
// and Streaming.
const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateReconciling
	StateErrored
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateSending:     "sending",
	StateStreaming:   "streaming",
	StateReconciling: "reconciling",
	StateErrored:     "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Transport is the collaborator API surface the controller depends on.
// Defined here, by the consumer; implemented by the transport package.
type Transport interface {
	CreateConversation(ctx context.Context, agentID int64, title string) (*Conversation, error)
	ListConversations(ctx context.Context, agentID int64, limit, offset int) ([]Conversation, error)
	Messages(ctx context.Context, convID int64, limit, offset int) ([]Message, error)
	DeleteConversation(ctx context.Context, convID int64) error

	// SendMessage returns the live response body once the server has
	// accepted the request headers. The caller owns closing it.
	SendMessage(ctx context.Context, convID int64, content string, attachmentIDs []int64) (io.ReadCloser, error)

	UploadFiles(ctx context.Context, convID int64, paths []string) ([]Attachment, error)
}

// SendRequest describes one message send.
type SendRequest struct {
	// ConversationID selects the target conversation. Zero lazily creates a
	// new conversation for AgentID before sending.
	ConversationID int64
	AgentID        int64
	Content        string
	// FilePaths are local files to upload as attachments before the message
	// is sent. Any upload failure blocks the send; no stream is opened.
	FilePaths []string
}

// attempt is the bookkeeping for one active send.
type attempt struct {
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller orchestrates send attempts: optimistic insert, attachment
// upload, the streaming request, event application, and reconciliation. One
// controller serves all conversations of a client; each conversation has at
// most one active attempt, and attempts for different conversations run
// independently.
type Controller struct {
	mu       sync.Mutex
	tc       Transport
	store    *Store
	notifier *Notifier
	logger   log.Logger
	pageSize int
	attempts map[int64]*attempt
	lastErr  map[int64]error
}

// NewController creates a controller. pageSize bounds canonical message and
// conversation fetches; zero or negative falls back to 100.
func NewController(tc Transport, store *Store, notifier *Notifier, logger log.Logger, pageSize int) *Controller {
	if logger == nil {
		logger = log.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Controller{
		tc:       tc,
		store:    store,
		notifier: notifier,
		logger:   logger,
		pageSize: pageSize,
		attempts: make(map[int64]*attempt),
		lastErr:  make(map[int64]error),
	}
}

// Send starts one send attempt and returns once streaming has begun (or the
// attempt failed before that). The returned conversation id is the target
// conversation, freshly created when req.ConversationID was zero.
//
// Errors returned here cover the pre-stream phases: validation
// (ErrEmptyMessage), a conversation with an active attempt
// (ErrSendInProgress), lazy conversation creation, attachment upload, and a
// rejected or failed streaming request. Mid-stream outcomes are observed via
// the Notifier, State, Wait and LastError.
func (c *Controller) Send(ctx context.Context, req SendRequest) (int64, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.FilePaths) == 0 {
		return 0, ErrEmptyMessage
	}

	convID := req.ConversationID
	if convID == 0 {
		conv, err := c.tc.CreateConversation(ctx, req.AgentID, "")
		if err != nil {
			return 0, fmt.Errorf("create conversation: %w", err)
		}
		convID = conv.ID
		c.store.UpsertConversation(*conv)
		c.store.SetActive(convID)
	}

	// Reserve the conversation. At most one attempt may exist per
	// conversation; a concurrent submit is rejected, never queued.
	sctx, cancel := context.WithCancel(ctx)
	a := &attempt{state: StateSending, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if _, active := c.attempts[convID]; active {
		c.mu.Unlock()
		cancel()
		return convID, ErrSendInProgress
	}
	c.attempts[convID] = a
	delete(c.lastErr, convID)
	c.mu.Unlock()

	c.notifier.BeginWork()

	placeholders := make([]Attachment, 0, len(req.FilePaths))
	for _, p := range req.FilePaths {
		placeholders = append(placeholders, Attachment{Name: filepath.Base(p)})
	}

	_, token, err := c.store.ApplyOptimisticUserMessage(convID, req.Content, placeholders)
	if err != nil {
		c.failSend(convID, a, err)
		return convID, err
	}
	c.notifier.Notify(convID)

	// Upload attachments before the streaming request. A failed upload
	// blocks the send entirely; the optimistic message is flagged failed.
	var attachmentIDs []int64
	if len(req.FilePaths) > 0 {
		atts, err := c.tc.UploadFiles(sctx, convID, req.FilePaths)
		if err != nil {
			err = fmt.Errorf("upload attachments: %w", err)
			c.store.MarkSendFailed(convID)
			c.failSend(convID, a, err)
			return convID, err
		}
		for _, att := range atts {
			attachmentIDs = append(attachmentIDs, att.ID)
		}
	}

	body, err := c.tc.SendMessage(sctx, convID, req.Content, attachmentIDs)
	if err != nil {
		err = fmt.Errorf("send message: %w", err)
		c.store.MarkSendFailed(convID)
		c.failSend(convID, a, err)
		return convID, err
	}

	c.mu.Lock()
	a.state = StateStreaming
	c.mu.Unlock()

	go c.pump(sctx, convID, token, req.AgentID, a, body)
	return convID, nil
}

// pump drains the stream body: chunks → decoder → typed events → store. It
// runs until a terminal event, transport end, or cancellation, then settles
// the attempt.
func (c *Controller) pump(ctx context.Context, convID int64, token uint64, agentID int64, a *attempt, body io.ReadCloser) {
	defer func() {
		body.Close()
		c.removeAttempt(convID, a)
		c.notifier.EndWork()
		close(a.done)
		c.notifier.Notify(convID)
	}()

	var dec stream.Decoder
	var terminal stream.Event
	var readErr error
	buf := make([]byte, 4096)

	canceled := false
reading:
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				ev := stream.ParseRecord(line)
				if ev.Kind == stream.KindMalformed {
					// One corrupt record must not abort a healthy stream.
					c.logger.Debug("dropping malformed record", "conversation", convID)
					continue
				}
				// Abort is checked before every application: once canceled,
				// already-buffered chunks produce no further state changes.
				if ctx.Err() != nil {
					canceled = true
					break reading
				}
				if c.store.ApplyStreamEvent(convID, token, ev) {
					c.notifier.Notify(convID)
				}
				if ev.Terminal() {
					terminal = ev
					break reading
				}
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}
	if rest := dec.Rest(); rest != "" {
		c.logger.Debug("discarding partial trailing record", "conversation", convID, "bytes", len(rest))
	}

	switch {
	case canceled || ctx.Err() != nil:
		// User cancel or navigation: drop the agent response, keep the
		// optimistic user message, skip reconciliation.
		c.store.DiscardInFlight(convID)
		c.setLastErr(convID, ErrStreamCanceled)
		c.logger.Info("stream canceled", "conversation", convID)

	case terminal.Kind == stream.KindDone:
		c.mu.Lock()
		a.state = StateReconciling
		c.mu.Unlock()
		if terminal.ThreadID != 0 && terminal.ThreadID != convID {
			c.logger.Warn("done event thread mismatch", "conversation", convID, "thread", terminal.ThreadID)
		}
		c.reconcile(ctx, convID, agentID)

	case terminal.Kind == stream.KindError:
		c.mu.Lock()
		a.state = StateErrored
		c.mu.Unlock()
		c.store.DiscardInFlight(convID)
		c.setLastErr(convID, fmt.Errorf("%w: %s", ErrStreamFailed, terminal.Reason))
		c.logger.Warn("stream failed", "conversation", convID, "reason", terminal.Reason)
		c.refreshConversationList(ctx, agentID)

	default:
		// Transport closed without a terminal event. Robustness over
		// optimism: treat it as a stream failure.
		c.mu.Lock()
		a.state = StateErrored
		c.mu.Unlock()
		c.store.DiscardInFlight(convID)
		err := ErrStreamTruncated
		if readErr != nil && readErr != io.EOF {
			err = fmt.Errorf("%w: %v", ErrStreamTruncated, readErr)
		}
		c.setLastErr(convID, err)
		c.logger.Warn("stream ended without terminal event", "conversation", convID, "error", readErr)
	}
}

// reconcile replaces local state with the server's canonical record after a
// completed stream. Fetch failures are reported but do not revert the
// attempt: the stream's own result stands.
func (c *Controller) reconcile(ctx context.Context, convID, agentID int64) {
	msgs, err := c.tc.Messages(ctx, convID, c.pageSize, 0)
	if err != nil {
		c.logger.Warn("reconcile fetch failed", "conversation", convID, "error", err)
		c.store.DiscardInFlight(convID)
	} else {
		c.store.Reconcile(convID, msgs)
	}
	c.refreshConversationList(ctx, agentID)
}

func (c *Controller) refreshConversationList(ctx context.Context, agentID int64) {
	convs, err := c.tc.ListConversations(ctx, agentID, c.pageSize, 0)
	if err != nil {
		c.logger.Warn("conversation list refresh failed", "agent", agentID, "error", err)
		return
	}
	c.store.SetConversations(convs)
}

// Cancel aborts the conversation's active attempt: the network transfer stops
// immediately, the in-flight agent response is discarded without
// reconciliation, and the optimistic user message remains. Reports whether an
// attempt was active.
func (c *Controller) Cancel(convID int64) bool {
	c.mu.Lock()
	a, ok := c.attempts[convID]
	if ok && a.cancel != nil {
		a.cancel()
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.store.DiscardInFlight(convID)
	c.notifier.Notify(convID)
	return true
}

// CancelOthers cancels every active attempt except the one for keepID. Used
// when the user selects a different conversation.
func (c *Controller) CancelOthers(keepID int64) {
	c.mu.Lock()
	var ids []int64
	for id := range c.attempts {
		if id != keepID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Cancel(id)
	}
}

// CancelAll cancels every active attempt. Used on client close and logout.
func (c *Controller) CancelAll() {
	c.CancelOthers(0)
}

// Wait blocks until the conversation's current attempt settles and returns
// its terminal error, nil for a completed stream. Returns immediately when no
// attempt is active.
func (c *Controller) Wait(convID int64) error {
	c.mu.Lock()
	a, ok := c.attempts[convID]
	c.mu.Unlock()
	if ok {
		<-a.done
	}
	return c.LastError(convID)
}

// State returns the conversation's current attempt state. With no active
// attempt it reports StateErrored if the last attempt failed, StateIdle
// otherwise.
func (c *Controller) State(convID int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[convID]; ok {
		return a.state
	}
	if c.lastErr[convID] != nil {
		return StateErrored
	}
	return StateIdle
}

// LastError returns the terminal error of the conversation's most recent
// attempt, nil when it completed cleanly or none ran.
func (c *Controller) LastError(convID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr[convID]
}

// failSend settles an attempt that never reached the streaming phase.
func (c *Controller) failSend(convID int64, a *attempt, err error) {
	c.mu.Lock()
	a.state = StateErrored
	c.lastErr[convID] = err
	if c.attempts[convID] == a {
		delete(c.attempts, convID)
	}
	c.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	c.notifier.EndWork()
	close(a.done)
	c.notifier.Notify(convID)
	c.logger.Warn("send failed", "conversation", convID, "error", err)
}

func (c *Controller) setLastErr(convID int64, err error) {
	c.mu.Lock()
	c.lastErr[convID] = err
	c.mu.Unlock()
}

func (c *Controller) removeAttempt(convID int64, a *attempt) {
	c.mu.Lock()
	if c.attempts[convID] == a {
		delete(c.attempts, convID)
	}
	c.mu.Unlock()
}
