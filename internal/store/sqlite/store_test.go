package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/propsift/propsift/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done, err := s.IsProcessed(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("fresh id reported processed")
	}

	if err := s.MarkProcessed(ctx, 42); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := s.MarkProcessed(ctx, 42); err != nil {
		t.Fatalf("second mark must be a no-op, got: %v", err)
	}

	done, err = s.IsProcessed(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("id not reported processed after mark")
	}
}

func TestSaveMessage_InsertIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sender := int64(777)
	name := "Anna"
	msg := store.Message{
		MessageID: 100,
		ChatID:    -1_000_000_000_456,
		ChatKind:  store.ChatGroup,
		SenderID:  &sender,
		FirstName: &name,
		Date:      time.Now(),
		Text:      "ищу квартиру в центре",
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	// Second save with different text must not overwrite the captured row.
	msg.Text = "changed"
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessageByID(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("message not found")
	}
	if got.Text != "ищу квартиру в центре" {
		t.Errorf("message mutated on duplicate save: %q", got.Text)
	}
	if got.SenderID == nil || *got.SenderID != 777 {
		t.Errorf("sender id = %v, want 777", got.SenderID)
	}
	if got.Username != nil {
		t.Errorf("absent username should stay nil, got %q", *got.Username)
	}
}

func TestSentMarkers_Independent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveMessage(ctx, store.Message{MessageID: 5, ChatID: 1, ChatKind: store.ChatDirect, Date: time.Now(), Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSentToRelay(ctx, 5); err != nil {
		t.Fatal(err)
	}
	relay, _ := s.WasSentToRelay(ctx, 5)
	webhook, _ := s.WasSentToWebhook(ctx, 5)
	if !relay {
		t.Error("relay marker not set")
	}
	if webhook {
		t.Error("webhook marker set without send")
	}

	// Unknown message: both markers read false, not an error.
	if sent, err := s.WasSentToRelay(ctx, 999); err != nil || sent {
		t.Errorf("unknown message: sent=%v err=%v", sent, err)
	}
}

func TestSubscriptions_MultiOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	chat := int64(-1_000_000_000_456)

	if err := s.AddSubscription(ctx, "alice", chat); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSubscription(ctx, "bob", chat); err != nil {
		t.Fatal(err)
	}
	// Duplicate add is a no-op.
	if err := s.AddSubscription(ctx, "alice", chat); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveSubscription(ctx, "alice", chat); err != nil {
		t.Fatal(err)
	}
	chats, err := s.ListTrackedChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := chats[chat]; !ok {
		t.Error("chat dropped while bob still subscribes")
	}

	if err := s.RemoveSubscription(ctx, "bob", chat); err != nil {
		t.Fatal(err)
	}
	chats, err = s.ListTrackedChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := chats[chat]; ok {
		t.Error("chat still tracked after last owner unsubscribed")
	}

	exists, err := s.SubscriptionExists(ctx, "bob", chat)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("removed subscription still exists")
	}
}

func TestKeywords_UniquePerScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	kw := store.Keyword{OwnerID: store.GlobalOwner, Polarity: store.Positive, Term: "квартира"}
	if err := s.AddKeyword(ctx, kw); err != nil {
		t.Fatal(err)
	}
	if err := s.AddKeyword(ctx, kw); err != nil {
		t.Fatalf("duplicate add must be ignored: %v", err)
	}
	// Same term with opposite polarity is a distinct row.
	if err := s.AddKeyword(ctx, store.Keyword{Polarity: store.Negative, Term: "квартира"}); err != nil {
		t.Fatal(err)
	}

	pos, err := s.KeywordsByPolarity(ctx, store.Positive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 1 {
		t.Errorf("positive terms = %d, want 1", len(pos))
	}
	if pos[0].Category != store.DefaultCategory {
		t.Errorf("default category = %q, want %q", pos[0].Category, store.DefaultCategory)
	}

	all, err := s.ListKeywords(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("total terms = %d, want 2", len(all))
	}

	if err := s.RemoveKeyword(ctx, store.GlobalOwner, store.Positive, "", "квартира"); err != nil {
		t.Fatal(err)
	}
	pos, _ = s.KeywordsByPolarity(ctx, store.Positive)
	if len(pos) != 0 {
		t.Errorf("positive terms after remove = %d, want 0", len(pos))
	}
}
