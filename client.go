package agentstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/agentstream/config"
	"github.com/koopa0/agentstream/internal/log"
	"github.com/koopa0/agentstream/internal/observability"
	"github.com/koopa0/agentstream/session"
	"github.com/koopa0/agentstream/transport"
)

// ErrClosed indicates the client has been closed.
var ErrClosed = errors.New("client is closed")

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger log.Logger
}

// WithLogger overrides the logger built from the configuration. Useful in
// tests and when embedding the client into an application with its own
// logging setup.
func WithLogger(logger log.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// Client is the programmatic surface of the chat client: select a
// conversation, send messages with optional attachments, cancel an active
// stream, and subscribe to per-conversation state changes.
//
// Client is safe for concurrent use.
type Client struct {
	cfg        *config.Config
	logger     log.Logger
	transport  *transport.Client
	store      *session.Store
	notifier   *session.Notifier
	controller *session.Controller

	shutdownTrace func(context.Context) error
	closeOnce     sync.Once
	closed        chan struct{}
}

// New creates a client from the given configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.New(log.Config{Level: parseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	}

	shutdownTrace, err := observability.Setup(context.Background(), "agentstream", cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	tc, err := transport.New(transport.Config{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.APIToken,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RequestBurst:      cfg.RequestBurst,
	}, logger.With("component", "transport"))
	if err != nil {
		_ = shutdownTrace(context.Background())
		return nil, err
	}

	store := session.NewStore(logger.With("component", "store"))
	notifier := session.NewNotifier()
	controller := session.NewController(tc, store, notifier,
		logger.With("component", "controller"), cfg.PageSize)

	return &Client{
		cfg:           cfg,
		logger:        logger,
		transport:     tc,
		store:         store,
		notifier:      notifier,
		controller:    controller,
		shutdownTrace: shutdownTrace,
		closed:        make(chan struct{}),
	}, nil
}

// Conversations refreshes and returns the first page of the agent's
// conversations, most recently active first.
func (c *Client) Conversations(ctx context.Context) ([]session.Conversation, error) {
	convs, err := c.transport.ListConversations(ctx, c.cfg.AgentID, c.cfg.PageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	c.store.SetConversations(convs)
	return c.store.Conversations(), nil
}

// LoadMoreConversations fetches the page at the given offset and merges it
// into the local list. Returns the number of conversations fetched; zero
// means the end of the list.
func (c *Client) LoadMoreConversations(ctx context.Context, offset int) (int, error) {
	convs, err := c.transport.ListConversations(ctx, c.cfg.AgentID, c.cfg.PageSize, offset)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	for _, conv := range convs {
		c.store.UpsertConversation(conv)
	}
	return len(convs), nil
}

// SelectConversation makes a conversation active: streams belonging to other
// conversations are canceled, its persisted messages are loaded, and the
// selection is remembered across restarts.
func (c *Client) SelectConversation(ctx context.Context, convID int64) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.controller.CancelOthers(convID)

	msgs, err := c.transport.Messages(ctx, convID, c.cfg.PageSize, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	c.store.SetMessages(convID, msgs)
	c.store.SetActive(convID)
	c.saveCurrent(convID)
	c.notifier.Notify(convID)
	return nil
}

// RestoreCurrentConversation selects the conversation persisted by the last
// session, if any. Returns the restored id, or zero when none was saved.
func (c *Client) RestoreCurrentConversation(ctx context.Context) (int64, error) {
	id, ok, err := session.LoadCurrentConversationID(c.cfg.StateDir)
	if err != nil || !ok {
		return 0, err
	}
	if err := c.SelectConversation(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// Send sends a message to the active conversation, lazily creating one when
// none is selected. filePaths are uploaded as attachments before the message
// goes out; an upload failure blocks the send.
//
// Send returns once streaming has begun. Follow progress via Subscribe,
// Rendered and InFlight; block for the outcome with Wait.
func (c *Client) Send(ctx context.Context, content string, filePaths ...string) (int64, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	active := c.store.Active()
	convID, err := c.controller.Send(ctx, session.SendRequest{
		ConversationID: active,
		AgentID:        c.cfg.AgentID,
		Content:        content,
		FilePaths:      filePaths,
	})
	if err != nil {
		return convID, err
	}
	if convID != active {
		c.saveCurrent(convID)
	}
	return convID, nil
}

// CancelStream aborts the conversation's active stream: the network transfer
// stops, the partial agent response is discarded, and the optimistic user
// message remains. Reports whether a stream was active.
func (c *Client) CancelStream(convID int64) bool {
	return c.controller.Cancel(convID)
}

// Wait blocks until the conversation's current send attempt settles and
// returns its terminal error, nil for a completed stream.
func (c *Client) Wait(convID int64) error {
	return c.controller.Wait(convID)
}

// State returns the conversation's send state.
func (c *Client) State(convID int64) session.State {
	return c.controller.State(convID)
}

// LastError returns the terminal error of the conversation's most recent
// send attempt.
func (c *Client) LastError(convID int64) error {
	return c.controller.LastError(convID)
}

// Rendered returns the message sequence to display for a conversation,
// including the optimistic user message and the agent reply streamed so far.
// Safe to call at any time.
func (c *Client) Rendered(convID int64) []session.Message {
	return c.store.Rendered(convID)
}

// InFlight returns a snapshot of the conversation's in-flight exchange.
func (c *Client) InFlight(convID int64) (session.InFlightExchange, bool) {
	return c.store.InFlight(convID)
}

// Subscribe registers fn to run whenever the conversation's state changes.
// The returned function removes the subscription.
func (c *Client) Subscribe(convID int64, fn func()) (unsubscribe func()) {
	return c.notifier.Subscribe(convID, fn)
}

// SubscribeBusy registers fn to run when the client-wide busy flag flips
// (any send attempt outstanding anywhere).
func (c *Client) SubscribeBusy(fn func(busy bool)) (unsubscribe func()) {
	return c.notifier.SubscribeBusy(fn)
}

// DeleteConversation deletes a conversation on the server and locally. Any
// in-flight stream attached to it is canceled first.
func (c *Client) DeleteConversation(ctx context.Context, convID int64) error {
	c.controller.Cancel(convID)
	if err := c.transport.DeleteConversation(ctx, convID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	c.store.RemoveConversation(convID)
	if id, ok, _ := session.LoadCurrentConversationID(c.cfg.StateDir); ok && id == convID {
		if err := session.ClearCurrentConversationID(c.cfg.StateDir); err != nil {
			c.logger.Warn("clear saved conversation failed", "error", err)
		}
	}
	c.notifier.Notify(convID)
	return nil
}

// Close cancels all active streams, drops all subscriptions and flushes
// pending traces. The client must not be used afterwards.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.controller.CancelAll()
		c.notifier.Reset()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = c.shutdownTrace(ctx)
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// saveCurrent persists the selected conversation id, best effort.
func (c *Client) saveCurrent(convID int64) {
	if c.cfg.StateDir == "" {
		return
	}
	if err := session.SaveCurrentConversationID(c.cfg.StateDir, convID); err != nil {
		c.logger.Warn("save current conversation failed", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
