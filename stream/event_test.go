package stream

import "testing"

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "token",
			line: `data: {"type":"token","content":"Hello"}`,
			want: Event{Kind: KindToken, Text: "Hello"},
		},
		{
			name: "token with missing content defaults to empty",
			line: `data: {"type":"token"}`,
			want: Event{Kind: KindToken},
		},
		{
			name: "step",
			line: `data: {"type":"step","step":"thinking"}`,
			want: Event{Kind: KindStep, Step: "thinking"},
		},
		{
			name: "tool start",
			line: `data: {"type":"tool_start","tool":"search"}`,
			want: Event{Kind: KindToolStart, Tool: "search"},
		},
		{
			name: "tool end",
			line: `data: {"type":"tool_end","tool":"search","result":"3 hits"}`,
			want: Event{Kind: KindToolEnd, Tool: "search", Result: "3 hits"},
		},
		{
			name: "message",
			line: `data: {"type":"message","message_id":42}`,
			want: Event{Kind: KindMessage, MessageID: 42},
		},
		{
			name: "agent message",
			line: `data: {"type":"agent_message","message_id":43}`,
			want: Event{Kind: KindAgentMessage, MessageID: 43},
		},
		{
			name: "done",
			line: `data: {"type":"done","thread_id":7}`,
			want: Event{Kind: KindDone, ThreadID: 7},
		},
		{
			name: "error",
			line: `data: {"type":"error","error":"model overloaded"}`,
			want: Event{Kind: KindError, Reason: "model overloaded"},
		},
		{
			name: "blank line",
			line: "",
			want: Event{Kind: KindMalformed},
		},
		{
			name: "keep-alive comment",
			line: ": ping",
			want: Event{Kind: KindMalformed},
		},
		{
			name: "missing prefix",
			line: `{"type":"token","content":"x"}`,
			want: Event{Kind: KindMalformed},
		},
		{
			name: "corrupt json",
			line: `data: {"type":"token","content":`,
			want: Event{Kind: KindMalformed},
		},
		{
			name: "unknown type",
			line: `data: {"type":"usage","content":"x"}`,
			want: Event{Kind: KindMalformed},
		},
		{
			name: "extra unknown fields ignored",
			line: `data: {"type":"token","content":"x","trace":"abc"}`,
			want: Event{Kind: KindToken, Text: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRecord(tt.line); got != tt.want {
				t.Errorf("ParseRecord(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestEventTerminal(t *testing.T) {
	for kind, name := range kindNames {
		terminal := kind == KindDone || kind == KindError
		if got := (Event{Kind: kind}).Terminal(); got != terminal {
			t.Errorf("Event{%s}.Terminal() = %v, want %v", name, got, terminal)
		}
	}
}

func TestKindString(t *testing.T) {
	if got := KindToolStart.String(); got != "tool_start" {
		t.Errorf("KindToolStart.String() = %q, want %q", got, "tool_start")
	}
	if got := Kind(99).String(); got != "unknown" {
		t.Errorf("Kind(99).String() = %q, want %q", got, "unknown")
	}
}
