package stream

import (
	"encoding/json"
	"strings"
)

// RecordPrefix marks a line as an event record. Lines without it (blank
// keep-alives, ":" comments) carry no events and are dropped.
const RecordPrefix = "data: "

// Kind identifies the event variant carried by an Event.
type Kind int

// Event kinds, one per record type the server emits. KindMalformed is
// client-side only: it tags lines that could not be decoded into any of the
// wire kinds, and is discarded by the Dispatcher.
const (
	KindMalformed Kind = iota
	KindToken
	KindStep
	KindToolStart
	KindToolEnd
	KindMessage
	KindAgentMessage
	KindDone
	KindError
)

var kindNames = map[Kind]string{
	KindMalformed:    "malformed",
	KindToken:        "token",
	KindStep:         "step",
	KindToolStart:    "tool_start",
	KindToolEnd:      "tool_end",
	KindMessage:      "message",
	KindAgentMessage: "agent_message",
	KindDone:         "done",
	KindError:        "error",
}

// String returns the wire name of the kind ("token", "tool_start", ...).
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is the tagged union of everything a stream can carry. Only the fields
// relevant to Kind are populated; the rest stay at their zero values.
//
//	KindToken         Text
//	KindStep          Step
//	KindToolStart     Tool
//	KindToolEnd       Tool, Result
//	KindMessage       MessageID
//	KindAgentMessage  MessageID
//	KindDone          ThreadID
//	KindError         Reason
//
// Events are transient: they are applied to in-flight state and never
// persisted.
type Event struct {
	Kind      Kind
	Text      string
	Step      string
	Tool      string
	Result    string
	MessageID int64
	ThreadID  int64
	Reason    string
}

// Terminal reports whether the event ends the stream. Exactly one terminal
// event is valid per stream; nothing may be applied after it.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// record mirrors the wire payload. All fields are optional on the wire;
// missing ones decode to zero values and never fail the record.
type record struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Step      string `json:"step"`
	Tool      string `json:"tool"`
	Result    string `json:"result"`
	MessageID int64  `json:"message_id"`
	ThreadID  int64  `json:"thread_id"`
	Error     string `json:"error"`
}

// ParseRecord decodes one line into an Event. Lines without the record
// prefix, records with corrupt JSON, and records with an unknown type all
// yield KindMalformed; the decode boundary never returns an error for a
// single bad record.
func ParseRecord(line string) Event {
	payload, ok := strings.CutPrefix(line, RecordPrefix)
	if !ok {
		return Event{Kind: KindMalformed}
	}

	var rec record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Event{Kind: KindMalformed}
	}

	switch rec.Type {
	case "token":
		return Event{Kind: KindToken, Text: rec.Content}
	case "step":
		return Event{Kind: KindStep, Step: rec.Step}
	case "tool_start":
		return Event{Kind: KindToolStart, Tool: rec.Tool}
	case "tool_end":
		return Event{Kind: KindToolEnd, Tool: rec.Tool, Result: rec.Result}
	case "message":
		return Event{Kind: KindMessage, MessageID: rec.MessageID}
	case "agent_message":
		return Event{Kind: KindAgentMessage, MessageID: rec.MessageID}
	case "done":
		return Event{Kind: KindDone, ThreadID: rec.ThreadID}
	case "error":
		return Event{Kind: KindError, Reason: rec.Error}
	default:
		return Event{Kind: KindMalformed}
	}
}
