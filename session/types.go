package session

import "time"

// Role identifies the sender of a message.
type Role string

// Valid message roles.
const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Conversation is one chat thread owned by an agent. The server is the source
// of truth; the client holds the most recently fetched window.
type Conversation struct {
	ID           int64     `json:"id"`
	AgentID      int64     `json:"agent_id"`
	Title        string    `json:"title,omitempty"`
	Archived     bool      `json:"archived"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
}

// Message is a single conversation message. Until the server assigns a real
// identifier, locally created messages carry a negative ID (see
// Store.ApplyOptimisticUserMessage); reconciliation replaces them with
// canonical data.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`

	// Accounting, populated by the server once the agent reply is persisted.
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	DurationMS       int64      `json:"duration_ms,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`

	// Failed marks an optimistic message whose send attempt did not reach the
	// streaming phase. Never set on canonical messages.
	Failed bool `json:"-"`
}

// Local reports whether the message carries a temporary client-assigned ID.
func (m Message) Local() bool {
	return m.ID < 0
}

// ToolCall records one tool invocation observed during an agent reply.
type ToolCall struct {
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

// Attachment is an uploaded file. MessageID is zero until the owning message
// is persisted; until then the attachment belongs to the conversation.
type Attachment struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id,omitempty"`
	Name      string `json:"name"`
	MIMEType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// InFlightExchange is a read-only snapshot of the not-yet-persisted exchange
// for one conversation: the optimistic user message plus the accumulating
// agent reply. Snapshots are values; mutating one has no effect on the Store.
type InFlightExchange struct {
	UserMessage Message
	Response    string     // agent reply accumulated so far
	Step        string     // current step label, empty when none
	ActiveTool  string     // tool currently running, empty when none
	ToolCalls   []ToolCall // completed tool invocations
	Terminated  bool       // a done or error event has been applied
	Reason      string     // error reason; empty for done
	ThreadID    int64      // conversation id confirmed by done

	// Server-assigned ids observed mid-stream, zero until the matching
	// message/agent_message event arrives.
	UserMessageID  int64
	AgentMessageID int64
}
