package session

import (
	"testing"
	"time"

	"github.com/koopa0/agentstream/internal/log"
	"github.com/koopa0/agentstream/stream"
)

func TestConversationsOrderedByLastActivity(t *testing.T) {
	s := NewStore(log.NewNop())
	now := time.Now()
	s.SetConversations([]Conversation{
		{ID: 1, LastActivity: now.Add(-2 * time.Hour)},
		{ID: 2, LastActivity: now},
		{ID: 3, LastActivity: now.Add(-1 * time.Hour)},
	})

	got := s.Conversations()
	wantOrder := []int64{2, 3, 1}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Fatalf("Conversations()[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}

	// A fresh message bumps a conversation to the top.
	s.UpsertConversation(Conversation{ID: 1, LastActivity: now.Add(time.Minute)})
	if got := s.Conversations(); got[0].ID != 1 {
		t.Errorf("after upsert, Conversations()[0].ID = %d, want 1", got[0].ID)
	}
}

func TestApplyOptimisticUserMessage(t *testing.T) {
	s := NewStore(log.NewNop())

	msg, token, err := s.ApplyOptimisticUserMessage(7, "Hello", nil)
	if err != nil {
		t.Fatalf("ApplyOptimisticUserMessage() error = %v", err)
	}
	if token == 0 {
		t.Error("ApplyOptimisticUserMessage() returned zero attempt token")
	}
	if !msg.Local() {
		t.Errorf("optimistic message id = %d, want negative", msg.ID)
	}
	if msg.Role != RoleUser || msg.Content != "Hello" {
		t.Errorf("optimistic message = %+v, want user/Hello", msg)
	}

	rendered := s.Rendered(7)
	if len(rendered) != 1 || rendered[0].ID != msg.ID {
		t.Fatalf("Rendered() = %+v, want the optimistic message only", rendered)
	}

	// Second optimistic insert for the same conversation is rejected.
	if _, _, err := s.ApplyOptimisticUserMessage(7, "again", nil); err != ErrExchangeInFlight {
		t.Errorf("second ApplyOptimisticUserMessage() error = %v, want ErrExchangeInFlight", err)
	}

	// A different conversation is independent.
	if _, _, err := s.ApplyOptimisticUserMessage(8, "other", nil); err != nil {
		t.Errorf("ApplyOptimisticUserMessage(other conversation) error = %v", err)
	}
}

func TestApplyStreamEventFolding(t *testing.T) {
	s := NewStore(log.NewNop())
	_, token, err := s.ApplyOptimisticUserMessage(1, "q", nil)
	if err != nil {
		t.Fatalf("ApplyOptimisticUserMessage() error = %v", err)
	}

	// Token application is order-preserving: "Hel" + "lo" == "Hello".
	for _, text := range []string{"Hel", "lo"} {
		if !s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: text}) {
			t.Fatalf("ApplyStreamEvent(token %q) not applied", text)
		}
	}
	ex, ok := s.InFlight(1)
	if !ok {
		t.Fatal("InFlight() = none, want exchange")
	}
	if ex.Response != "Hello" {
		t.Errorf("Response = %q, want %q", ex.Response, "Hello")
	}

	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindStep, Step: "thinking"})
	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToolStart, Tool: "search"})
	ex, _ = s.InFlight(1)
	if ex.Step != "thinking" || ex.ActiveTool != "search" {
		t.Errorf("snapshot = step %q tool %q, want thinking/search", ex.Step, ex.ActiveTool)
	}

	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToolEnd, Tool: "search", Result: "3 hits"})
	ex, _ = s.InFlight(1)
	if ex.ActiveTool != "" {
		t.Errorf("ActiveTool after tool_end = %q, want empty", ex.ActiveTool)
	}
	if len(ex.ToolCalls) != 1 || ex.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls = %+v, want one search call", ex.ToolCalls)
	}

	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindDone, ThreadID: 1})
	ex, _ = s.InFlight(1)
	if !ex.Terminated {
		t.Error("Terminated = false after done event")
	}

	// Nothing applies after termination.
	if s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: "late"}) {
		t.Error("ApplyStreamEvent() applied after termination")
	}
	ex, _ = s.InFlight(1)
	if ex.Response != "Hello" {
		t.Errorf("Response after late token = %q, want %q", ex.Response, "Hello")
	}
}

func TestApplyStreamEventToolEndWithoutStart(t *testing.T) {
	s := NewStore(log.NewNop())
	_, token, _ := s.ApplyOptimisticUserMessage(1, "q", nil)

	if !s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToolEnd, Tool: "search"}) {
		t.Fatal("unpaired tool_end was not applied")
	}
	ex, _ := s.InFlight(1)
	if ex.ActiveTool != "" {
		t.Errorf("ActiveTool = %q, want empty after unpaired tool_end", ex.ActiveTool)
	}
}

func TestApplyStreamEventStaleAttempt(t *testing.T) {
	s := NewStore(log.NewNop())
	_, token, _ := s.ApplyOptimisticUserMessage(1, "first", nil)
	s.DiscardInFlight(1)
	_, _, err := s.ApplyOptimisticUserMessage(1, "second", nil)
	if err != nil {
		t.Fatalf("ApplyOptimisticUserMessage() error = %v", err)
	}

	// The canceled attempt's token must not write into its successor.
	if s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: "stale"}) {
		t.Error("stale attempt token was applied to the new exchange")
	}
	ex, _ := s.InFlight(1)
	if ex.Response != "" {
		t.Errorf("Response = %q, want empty", ex.Response)
	}
}

func TestReconcile(t *testing.T) {
	s := NewStore(log.NewNop())
	s.SetMessages(1, []Message{{ID: 10, ConversationID: 1, Role: RoleUser, Content: "old"}})
	_, token, _ := s.ApplyOptimisticUserMessage(1, "Hello", nil)
	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: "Hi there"})
	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindDone, ThreadID: 1})

	canonical := []Message{
		{ID: 10, ConversationID: 1, Role: RoleUser, Content: "old"},
		{ID: 11, ConversationID: 1, Role: RoleUser, Content: "Hello"},
		{ID: 12, ConversationID: 1, Role: RoleAgent, Content: "Hi there"},
	}
	s.Reconcile(1, canonical)

	assertCanonical := func(t *testing.T) {
		t.Helper()
		rendered := s.Rendered(1)
		if len(rendered) != 3 {
			t.Fatalf("Rendered() has %d messages, want 3: %+v", len(rendered), rendered)
		}
		for _, m := range rendered {
			if m.Local() {
				t.Errorf("message %d still has a temporary id after reconcile", m.ID)
			}
		}
		if _, ok := s.InFlight(1); ok {
			t.Error("InFlight() still present after reconcile")
		}
	}
	assertCanonical(t)

	// Idempotent: reconciling again yields the same list.
	s.Reconcile(1, canonical)
	assertCanonical(t)
}

func TestReconcileDropsLocalIDsDefensively(t *testing.T) {
	s := NewStore(log.NewNop())
	s.Reconcile(1, []Message{{ID: -5, Role: RoleUser}, {ID: 3, Role: RoleUser}})
	msgs := s.Messages(1)
	if len(msgs) != 1 || msgs[0].ID != 3 {
		t.Errorf("Messages() = %+v, want only the canonical message", msgs)
	}
}

func TestMarkSendFailedKeepsMessageVisible(t *testing.T) {
	s := NewStore(log.NewNop())
	msg, _, _ := s.ApplyOptimisticUserMessage(1, "Hello", nil)
	s.MarkSendFailed(1)

	if _, ok := s.InFlight(1); ok {
		t.Error("InFlight() still present after MarkSendFailed")
	}
	rendered := s.Rendered(1)
	if len(rendered) != 1 || rendered[0].ID != msg.ID {
		t.Fatalf("Rendered() = %+v, want the failed optimistic message", rendered)
	}
	if !rendered[0].Failed {
		t.Error("optimistic message not flagged failed")
	}

	// Retry is a fresh send: a new exchange is allowed now.
	if _, _, err := s.ApplyOptimisticUserMessage(1, "retry", nil); err != nil {
		t.Errorf("ApplyOptimisticUserMessage() after failure error = %v", err)
	}
}

func TestDiscardInFlight(t *testing.T) {
	s := NewStore(log.NewNop())
	msg, token, _ := s.ApplyOptimisticUserMessage(1, "Hello", nil)
	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: "partial reply"})
	s.DiscardInFlight(1)

	rendered := s.Rendered(1)
	if len(rendered) != 1 {
		t.Fatalf("Rendered() has %d messages, want 1", len(rendered))
	}
	if rendered[0].ID != msg.ID || rendered[0].Failed {
		t.Errorf("Rendered()[0] = %+v, want the unflagged optimistic message", rendered[0])
	}
	// The partial agent response is gone.
	for _, m := range rendered {
		if m.Role == RoleAgent {
			t.Errorf("agent response survived discard: %+v", m)
		}
	}
}

func TestRenderedMidStream(t *testing.T) {
	s := NewStore(log.NewNop())
	s.SetMessages(1, []Message{{ID: 1, Role: RoleUser, Content: "earlier"}})
	_, token, _ := s.ApplyOptimisticUserMessage(1, "question", nil)

	// Before any token: persisted + optimistic only, no empty agent bubble.
	if got := s.Rendered(1); len(got) != 2 {
		t.Fatalf("Rendered() has %d messages, want 2", len(got))
	}

	s.ApplyStreamEvent(1, token, stream.Event{Kind: stream.KindToken, Text: "answ"})
	got := s.Rendered(1)
	if len(got) != 3 {
		t.Fatalf("Rendered() has %d messages, want 3", len(got))
	}
	last := got[2]
	if last.Role != RoleAgent || last.Content != "answ" || !last.Local() {
		t.Errorf("streaming agent message = %+v, want local agent message %q", last, "answ")
	}
}

func TestRemoveConversation(t *testing.T) {
	s := NewStore(log.NewNop())
	s.SetConversations([]Conversation{{ID: 1}, {ID: 2}})
	s.SetActive(1)
	s.SetMessages(1, []Message{{ID: 5}})
	s.ApplyOptimisticUserMessage(1, "x", nil)

	s.RemoveConversation(1)

	if got := s.Conversations(); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("Conversations() = %+v, want only conversation 2", got)
	}
	if got := s.Rendered(1); len(got) != 0 {
		t.Errorf("Rendered() = %+v, want empty", got)
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d, want 0", s.Active())
	}
}
