package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/koopa0/agentstream/internal/log"
	"github.com/koopa0/agentstream/stream"
)

// Store holds the client-side view of conversations and messages: the ordered
// conversation list, a window of persisted messages per conversation, and at
// most one in-flight exchange per conversation.
//
// Store is safe for concurrent use. Every accessor returns defensive copies,
// so a snapshot taken mid-stream stays valid while the stream keeps going.
type Store struct {
	mu            sync.RWMutex
	logger        log.Logger
	conversations []Conversation
	activeID      int64
	messages      map[int64][]Message
	inFlight      map[int64]*exchange
	nextLocal     int64  // next temporary message id, counts down from -1
	nextAttempt   uint64 // attempt tokens, counts up from 1
}

// exchange is the mutable in-flight state behind an InFlightExchange
// snapshot. Guarded by Store.mu.
type exchange struct {
	attempt    uint64
	user       Message
	agentMsgID int64 // temporary id of the synthetic streaming agent message
	response   strings.Builder
	step       string
	activeTool string
	toolCalls  []ToolCall
	terminated bool
	reason     string
	threadID   int64
	userSrvID  int64 // server-assigned ids observed mid-stream
	agentSrvID int64
}

// NewStore creates an empty store. logger may be nil.
func NewStore(logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		logger:   logger,
		messages: make(map[int64][]Message),
		inFlight: make(map[int64]*exchange),
	}
}

// SetConversations replaces the conversation list. The list is kept ordered
// by last activity, most recent first.
func (s *Store) SetConversations(conversations []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make([]Conversation, len(conversations))
	copy(s.conversations, conversations)
	sortConversations(s.conversations)
}

// Conversations returns a copy of the conversation list, most recently active
// first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// UpsertConversation inserts or replaces one conversation and re-sorts.
func (s *Store) UpsertConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == c.ID {
			s.conversations[i] = c
			sortConversations(s.conversations)
			return
		}
	}
	s.conversations = append(s.conversations, c)
	sortConversations(s.conversations)
}

// RemoveConversation drops a conversation and all local state attached to it.
// The caller must cancel any active stream first.
func (s *Store) RemoveConversation(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	delete(s.messages, id)
	delete(s.inFlight, id)
	if s.activeID == id {
		s.activeID = 0
	}
}

// SetActive records the selected conversation. Zero means none.
func (s *Store) SetActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}

// Active returns the selected conversation id, zero when none.
func (s *Store) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetMessages replaces the persisted message window for a conversation.
func (s *Store) SetMessages(convID int64, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	s.messages[convID] = msgs
}

// Messages returns a copy of the persisted message window for a conversation.
func (s *Store) Messages(convID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages[convID]))
	copy(out, s.messages[convID])
	return out
}

// ApplyOptimisticUserMessage inserts a locally identified user message at the
// tail of the conversation and opens its in-flight exchange. The returned
// attempt token scopes subsequent ApplyStreamEvent calls to this exchange, so
// a canceled attempt can never write into its successor.
//
// Returns ErrExchangeInFlight if the conversation already has an exchange.
func (s *Store) ApplyOptimisticUserMessage(convID int64, content string, attachments []Attachment) (Message, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[convID]; ok {
		return Message{}, 0, ErrExchangeInFlight
	}

	s.nextLocal--
	userID := s.nextLocal
	s.nextLocal--
	agentID := s.nextLocal
	s.nextAttempt++

	atts := make([]Attachment, len(attachments))
	copy(atts, attachments)

	user := Message{
		ID:             userID,
		ConversationID: convID,
		Role:           RoleUser,
		Content:        content,
		Attachments:    atts,
	}
	s.inFlight[convID] = &exchange{
		attempt:    s.nextAttempt,
		user:       user,
		agentMsgID: agentID,
	}
	return user, s.nextAttempt, nil
}

// ApplyStreamEvent folds one stream event into the conversation's in-flight
// exchange. It reports whether the event was applied: events for a missing or
// already terminated exchange, for a stale attempt token, and malformed
// events are ignored.
//
// A tool_end always clears the active-tool label, even without a matching
// tool_start; out-of-order pairing is tolerated rather than failed.
func (s *Store) ApplyStreamEvent(convID int64, attempt uint64, ev stream.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.inFlight[convID]
	if !ok || ex.attempt != attempt || ex.terminated {
		return false
	}

	switch ev.Kind {
	case stream.KindToken:
		ex.response.WriteString(ev.Text)
	case stream.KindStep:
		ex.step = ev.Step
	case stream.KindToolStart:
		ex.activeTool = ev.Tool
	case stream.KindToolEnd:
		ex.activeTool = ""
		ex.toolCalls = append(ex.toolCalls, ToolCall{Name: ev.Tool, Result: ev.Result})
	case stream.KindMessage:
		ex.userSrvID = ev.MessageID
	case stream.KindAgentMessage:
		ex.agentSrvID = ev.MessageID
	case stream.KindDone:
		ex.terminated = true
		ex.threadID = ev.ThreadID
	case stream.KindError:
		ex.terminated = true
		ex.reason = ev.Reason
	default:
		return false
	}
	return true
}

// InFlight returns a snapshot of the conversation's in-flight exchange.
func (s *Store) InFlight(convID int64) (InFlightExchange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.inFlight[convID]
	if !ok {
		return InFlightExchange{}, false
	}
	return snapshotExchange(ex), true
}

// MarkSendFailed flags the optimistic message as failed and closes the
// exchange. The failed message stays visible in the rendered list so the user
// can see what did not go through; retry is a fresh send.
func (s *Store) MarkSendFailed(convID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.inFlight[convID]
	if !ok {
		return
	}
	ex.user.Failed = true
	s.messages[convID] = append(s.messages[convID], ex.user)
	delete(s.inFlight, convID)
}

// DiscardInFlight closes the exchange without reconciliation: the agent
// response accumulated so far is dropped, the optimistic user message remains
// visible. Used on user cancel and on mid-stream errors.
func (s *Store) DiscardInFlight(convID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.inFlight[convID]
	if !ok {
		return
	}
	s.messages[convID] = append(s.messages[convID], ex.user)
	delete(s.inFlight, convID)
}

// Reconcile replaces the optimistic and in-flight state for a conversation
// with the canonical persisted messages. Idempotent: reconciling twice after
// the same stream yields the same list. Afterwards no message with a
// temporary id remains and no in-flight exchange exists for the conversation.
func (s *Store) Reconcile(convID int64, canonical []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]Message, 0, len(canonical))
	for _, m := range canonical {
		if m.Local() {
			// Canonical data never carries temporary ids; drop defensively.
			s.logger.Warn("dropping local id from canonical messages", "conversation", convID, "id", m.ID)
			continue
		}
		msgs = append(msgs, m)
	}
	s.messages[convID] = msgs
	delete(s.inFlight, convID)
}

// Rendered returns the message sequence to display for a conversation:
// persisted messages, then the optimistic user message, then a synthetic
// agent message holding the reply streamed so far. Safe to call at any time,
// including mid-stream.
func (s *Store) Rendered(convID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages[convID]))
	copy(out, s.messages[convID])

	ex, ok := s.inFlight[convID]
	if !ok {
		return out
	}
	out = append(out, ex.user)
	if ex.response.Len() > 0 {
		out = append(out, Message{
			ID:             ex.agentMsgID,
			ConversationID: convID,
			Role:           RoleAgent,
			Content:        ex.response.String(),
			ToolCalls:      append([]ToolCall(nil), ex.toolCalls...),
		})
	}
	return out
}

// snapshotExchange copies an exchange into its public form. Caller holds mu.
func snapshotExchange(ex *exchange) InFlightExchange {
	return InFlightExchange{
		UserMessage: ex.user,
		Response:    ex.response.String(),
		Step:        ex.step,
		ActiveTool:  ex.activeTool,
		ToolCalls:   append([]ToolCall(nil), ex.toolCalls...),
		Terminated:  ex.terminated,
		Reason:      ex.reason,
		ThreadID:    ex.threadID,

		UserMessageID:  ex.userSrvID,
		AgentMessageID: ex.agentSrvID,
	}
}

func sortConversations(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivity.After(conversations[j].LastActivity)
	})
}
