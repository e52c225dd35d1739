package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/storechat/storechat/internal/store"
)

func TestResolveCustomerReusesIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.ResolveCustomer(ctx, "telegram", "555", "Lina")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	again, err := s.ResolveCustomer(ctx, "telegram", "555", "")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ID != again.ID {
		t.Errorf("same identity resolved to different customers: %s vs %s", first.ID, again.ID)
	}
	if again.DisplayName != "Lina" {
		t.Errorf("display name lost on re-resolve: %q", again.DisplayName)
	}

	other, err := s.ResolveCustomer(ctx, "whatsapp", "555", "Lina")
	if err != nil {
		t.Fatalf("resolve other channel: %v", err)
	}
	if other.ID == first.ID {
		t.Error("different channel identity must not merge automatically")
	}
}

func TestOpenConversationReturnsExistingOpen(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")

	conv1, err := s.OpenConversation(ctx, c.ID, "telegram")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conv2, err := s.OpenConversation(ctx, c.ID, "telegram")
	if err != nil {
		t.Fatalf("open again: %v", err)
	}
	if conv1.ID != conv2.ID {
		t.Error("second open created a new conversation while one was open")
	}

	if err := s.Close(ctx, conv1.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	conv3, err := s.OpenConversation(ctx, c.ID, "telegram")
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	if conv3.ID == conv1.ID {
		t.Error("closed conversation was reopened")
	}
	if conv3.State != store.StateActiveBot {
		t.Errorf("fresh conversation state = %s, want %s", conv3.State, store.StateActiveBot)
	}
}

func TestAppendMessageDuplicateExternalID(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")
	conv, _ := s.OpenConversation(ctx, c.ID, "telegram")

	msg := &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Sender:         store.SenderCustomer,
		Content:        "hi",
		ExternalID:     "ext-1",
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Sender:         store.SenderCustomer,
		Content:        "hi",
		ExternalID:     "ext-1",
	}
	if err := s.AppendMessage(ctx, dup); !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("duplicate append err = %v, want ErrDuplicateMessage", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("message count = %d after duplicate, want 1", got.MessageCount)
	}

	found, err := s.FindMessageByExternalID(ctx, "telegram", "ext-1")
	if err != nil {
		t.Fatalf("find by external id: %v", err)
	}
	if found.ID != msg.ID {
		t.Errorf("found wrong message: %s, want %s", found.ID, msg.ID)
	}
}

func TestAppendMessageClosedConversation(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")
	conv, _ := s.OpenConversation(ctx, c.ID, "telegram")
	if err := s.Close(ctx, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := s.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Sender:         store.SenderCustomer,
		Content:        "too late",
	})
	if !errors.Is(err, store.ErrConversationClosed) {
		t.Fatalf("append to closed err = %v, want ErrConversationClosed", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")
	conv, _ := s.OpenConversation(ctx, c.ID, "telegram")

	if err := s.ReturnToBot(ctx, conv.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("ReturnToBot from active_bot err = %v, want ErrInvalidTransition", err)
	}
	if err := s.Handoff(ctx, conv.ID, "angry customer"); err != nil {
		t.Fatalf("handoff: %v", err)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.State != store.StateActiveHuman || got.HandoffReason != "angry customer" || got.HandoffAt == nil {
		t.Errorf("handoff not recorded: state=%s reason=%q at=%v", got.State, got.HandoffReason, got.HandoffAt)
	}
	if err := s.Handoff(ctx, conv.ID, "again"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("double handoff err = %v, want ErrInvalidTransition", err)
	}
	if err := s.ReturnToBot(ctx, conv.ID); err != nil {
		t.Fatalf("return to bot: %v", err)
	}
	if err := s.Close(ctx, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(ctx, conv.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("close closed err = %v, want ErrInvalidTransition", err)
	}
	if err := s.Handoff(ctx, conv.ID, "zombie"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("handoff from closed err = %v, want ErrInvalidTransition", err)
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")
	conv, _ := s.OpenConversation(ctx, c.ID, "telegram")

	texts := []string{"one", "two", "three", "four", "five"}
	for _, txt := range texts {
		if err := s.AppendMessage(ctx, &store.Message{
			ConversationID: conv.ID,
			Direction:      store.DirectionInbound,
			Sender:         store.SenderCustomer,
			Content:        txt,
		}); err != nil {
			t.Fatalf("append %q: %v", txt, err)
		}
	}

	got, err := s.RecentMessages(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"three", "four", "five"} {
		if got[i].Content != want {
			t.Errorf("recent[%d] = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestUndeliveredMessages(t *testing.T) {
	s := New()
	ctx := context.Background()
	c, _ := s.ResolveCustomer(ctx, "telegram", "1", "A")
	conv, _ := s.OpenConversation(ctx, c.ID, "telegram")

	ok := &store.Message{ConversationID: conv.ID, Direction: store.DirectionOutbound, Sender: store.SenderBot, Content: "delivered"}
	bad := &store.Message{ConversationID: conv.ID, Direction: store.DirectionOutbound, Sender: store.SenderBot, Content: "lost"}
	for _, m := range []*store.Message{ok, bad} {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.MarkDeliveryFailed(ctx, bad.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := s.UndeliveredMessages(ctx, 10)
	if err != nil {
		t.Fatalf("undelivered: %v", err)
	}
	if len(got) != 1 || got[0].ID != bad.ID {
		t.Fatalf("undelivered = %v, want exactly the failed message", got)
	}
}
