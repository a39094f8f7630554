// Package transport implements the HTTP client side of the agent-chat
// collaborator API: conversation and message persistence, the streaming
// send-message endpoint, and file upload.
//
// Every request carries the configured bearer credential and a generated
// X-Request-ID for correlation. An optional client-side rate limiter smooths
// bursts before they hit the server, and each call runs inside an
// OpenTelemetry span (a no-op unless tracing is configured).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/koopa0/agentstream/internal/log"
	"github.com/koopa0/agentstream/session"
)

// maxErrorBody bounds how much of an error response body is read for the
// reason message.
const maxErrorBody = 8 << 10

// Config holds transport settings.
type Config struct {
	// BaseURL is the collaborator API root, e.g. "https://chat.example.com".
	BaseURL string

	// Token is the bearer credential attached to every request. Empty means
	// unauthenticated; the server decides what that is worth.
	Token string

	// RequestTimeout bounds non-streaming calls. Zero disables the bound.
	// Streaming sends are never subject to it.
	RequestTimeout time.Duration

	// RequestsPerSecond enables proactive client-side rate limiting when
	// positive. RequestBurst defaults to the rate's ceiling when zero.
	RequestsPerSecond float64
	RequestBurst      int
}

// Client talks to the collaborator API. Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     log.Logger
}

// New creates a transport client. logger may be nil.
func New(cfg Config, logger log.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		timeout: cfg.RequestTimeout,
		// No client-wide timeout: streaming bodies stay open for the
		// duration of an agent reply. REST calls bound themselves per call.
		httpClient: &http.Client{},
		limiter:    limiter,
		tracer:     otel.Tracer("github.com/koopa0/agentstream/transport"),
		logger:     logger,
	}, nil
}

// CreateConversation creates a conversation for an agent.
func (c *Client) CreateConversation(ctx context.Context, agentID int64, title string) (*session.Conversation, error) {
	body := map[string]any{"agent_id": agentID}
	if title != "" {
		body["title"] = title
	}
	var conv session.Conversation
	if err := c.doJSON(ctx, "CreateConversation", http.MethodPost, "/api/conversations", nil, body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns a page of the agent's conversations, most
// recently active first.
func (c *Client) ListConversations(ctx context.Context, agentID int64, limit, offset int) ([]session.Conversation, error) {
	query := url.Values{}
	if agentID != 0 {
		query.Set("agent_id", strconv.FormatInt(agentID, 10))
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var resp struct {
		Conversations []session.Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, "ListConversations", http.MethodGet, "/api/conversations", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Conversation fetches one conversation by id.
func (c *Client) Conversation(ctx context.Context, convID int64) (*session.Conversation, error) {
	var conv session.Conversation
	path := fmt.Sprintf("/api/conversations/%d", convID)
	if err := c.doJSON(ctx, "GetConversation", http.MethodGet, path, nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation deletes a conversation. The caller must cancel any
// active stream for it first.
func (c *Client) DeleteConversation(ctx context.Context, convID int64) error {
	path := fmt.Sprintf("/api/conversations/%d", convID)
	return c.doJSON(ctx, "DeleteConversation", http.MethodDelete, path, nil, nil, nil)
}

// Messages returns a page of a conversation's persisted messages in creation
// order.
func (c *Client) Messages(ctx context.Context, convID int64, limit, offset int) ([]session.Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var resp struct {
		Messages []session.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/conversations/%d/messages", convID)
	if err := c.doJSON(ctx, "ListMessages", http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a message and returns the live event-stream body once the
// response headers are accepted. A non-2xx status or network failure is
// returned instead; the body is never opened in that case. The caller owns
// closing the returned reader, and cancels the transfer through ctx.
func (c *Client) SendMessage(ctx context.Context, convID int64, content string, attachmentIDs []int64) (io.ReadCloser, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "agentstream.SendMessage",
		trace.WithAttributes(attribute.Int64("conversation.id", convID)))
	defer span.End()

	payload := map[string]any{
		"content":         content,
		"idempotency_key": uuid.NewString(),
	}
	if len(attachmentIDs) > 0 {
		payload["attachment_ids"] = attachmentIDs
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	path := fmt.Sprintf("/api/conversations/%d/messages/stream", convID)
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("open stream: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err := checkStatus(resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp.Body, nil
}

// doJSON performs one bounded JSON request/response cycle.
func (c *Client) doJSON(ctx context.Context, name, method, path string, query url.Values, payload, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "agentstream."+name)
	defer span.End()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err := checkStatus(resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}

// newRequest builds a request with auth and correlation headers applied.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// wait applies the client-side rate limiter, if configured.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// checkStatus maps a non-2xx response to an error carrying the server-sent
// reason. The response body is consumed for error statuses.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := readErrorReason(resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return wrapReason(ErrUnauthorized, reason)
	case http.StatusNotFound:
		return wrapReason(ErrNotFound, reason)
	case http.StatusTooManyRequests:
		return wrapReason(ErrRateLimited, reason)
	default:
		return &StatusError{Code: resp.StatusCode, Reason: reason}
	}
}

func wrapReason(sentinel error, reason string) error {
	if reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, reason)
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}

// readErrorReason extracts the server's error message from a failed
// response: a JSON {"error": "..."} body when present, otherwise the raw
// (bounded) body text.
func readErrorReason(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(raw))
}
