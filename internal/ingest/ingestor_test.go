package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/forward"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/store/sqlite"
	"github.com/propsift/propsift/internal/transport"
)

// fakeClient records relay sends; history is served from a fixed slice.
type fakeClient struct {
	sent    []transport.Outgoing
	history map[int64][]bus.Event
}

func (c *fakeClient) Connect(context.Context) error    { return nil }
func (c *fakeClient) Disconnect(context.Context) error { return nil }

func (c *fakeClient) Me(context.Context) (*transport.Entity, error) {
	return &transport.Entity{ID: 1}, nil
}

func (c *fakeClient) Events(context.Context) (<-chan bus.Event, error) {
	ch := make(chan bus.Event)
	close(ch)
	return ch, nil
}

func (c *fakeClient) ResolveEntity(_ context.Context, ref string) (*transport.Entity, error) {
	return nil, transport.ErrEntityNotResolvable
}

func (c *fakeClient) SendMessage(_ context.Context, out transport.Outgoing) error {
	c.sent = append(c.sent, out)
	return nil
}

func (c *fakeClient) History(_ context.Context, chatID int64, before time.Time, limit int) ([]bus.Event, error) {
	if c.history == nil {
		return nil, transport.ErrHistoryUnsupported
	}
	var page []bus.Event
	for _, ev := range c.history[chatID] {
		if ev.Date.Before(before) {
			page = append(page, ev)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type pipeline struct {
	ingestor *Ingestor
	client   *fakeClient
	stores   store.Stores
	db       *sqlite.Store
}

// newPipeline assembles a real pipeline over an in-memory database:
// one tracked chat (-1000000000042), one positive term "квартир" and
// one negative term "продается", relay enabled.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db, err := sqlite.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	stores := db.Stores()

	ctx := context.Background()
	if err := stores.Subscriptions.AddSubscription(ctx, "owner", -1000000000042); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for _, kw := range []store.Keyword{
		{ID: "k1", Polarity: store.Positive, Category: store.DefaultCategory, Term: "квартир"},
		{ID: "k2", Polarity: store.Negative, Category: store.DefaultCategory, Term: "продается"},
	} {
		if err := stores.Keywords.AddKeyword(ctx, kw); err != nil {
			t.Fatalf("add keyword: %v", err)
		}
	}

	client := &fakeClient{}
	sess := session.NewManager(client)
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	engine := keyword.NewEngine(stores.Keywords, time.Minute, nil)
	fwd := forward.New(sess, stores.Messages, engine, config.RelayConfig{
		Enabled: true,
		ChatID:  -1001234567890,
	}, nil)

	return &pipeline{
		ingestor: New(bus.New(), sess, stores, engine, fwd, 3),
		client:   client,
		stores:   stores,
		db:       db,
	}
}

func event(messageID int64, text string) bus.Event {
	return bus.Event{
		UpdateID:  messageID,
		MessageID: messageID,
		ChatID:    -1000000000042,
		ChatKind:  store.ChatGroup,
		Sender:    bus.Sender{Kind: bus.SenderUser, ID: 555, FirstName: "Анна"},
		Date:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Text:      text,
	}
}

func TestProcessEvent_MatchCapturesAndForwards(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.ingestor.ProcessEvent(ctx, event(100, "ищу квартиру в центре")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	msg, err := p.stores.Messages.GetMessageByID(ctx, 100)
	if err != nil || msg == nil {
		t.Fatalf("message not captured: %v", err)
	}
	if msg.ChatID != -1000000000042 {
		t.Errorf("stored chat id %d, want canonical form", msg.ChatID)
	}
	if len(p.client.sent) != 1 {
		t.Fatalf("sent %d relay messages, want 1", len(p.client.sent))
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 100); !processed {
		t.Error("matched message must be marked processed")
	}
	if sent, _ := p.stores.Messages.WasSentToRelay(ctx, 100); !sent {
		t.Error("relay sent marker not set")
	}
}

func TestProcessEvent_NegativeTermVetoes(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.ingestor.ProcessEvent(ctx, event(101, "продается квартира, звоните")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if msg, _ := p.stores.Messages.GetMessageByID(ctx, 101); msg != nil {
		t.Error("vetoed message must not be captured")
	}
	if len(p.client.sent) != 0 {
		t.Errorf("sent %d relay messages, want 0", len(p.client.sent))
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 101); !processed {
		t.Error("vetoed message still consumes its processed marker")
	}
}

func TestProcessEvent_DuplicateForwardsOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ev := event(102, "сдам квартиру на месяц")
	if err := p.ingestor.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("first ProcessEvent: %v", err)
	}
	if err := p.ingestor.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("second ProcessEvent: %v", err)
	}

	if len(p.client.sent) != 1 {
		t.Errorf("sent %d relay messages, want exactly 1", len(p.client.sent))
	}
}

func TestProcessEvent_UntrackedChatInvisible(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ev := event(103, "ищу квартиру")
	ev.ChatID = -999 // not subscribed
	if err := p.ingestor.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if len(p.client.sent) != 0 {
		t.Error("untracked chat must not be forwarded")
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 103); processed {
		t.Error("untracked events are invisible, not processed")
	}
}

func TestProcessEvent_EmptyTextMarkedOnly(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.ingestor.ProcessEvent(ctx, event(104, "   ")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if msg, _ := p.stores.Messages.GetMessageByID(ctx, 104); msg != nil {
		t.Error("text-less message must not be captured")
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 104); !processed {
		t.Error("text-less message must be marked processed")
	}
}

func TestProcessEvent_NonMatchMarkedWithoutCapture(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.ingestor.ProcessEvent(ctx, event(105, "хорошая погода сегодня")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if msg, _ := p.stores.Messages.GetMessageByID(ctx, 105); msg != nil {
		t.Error("non-matching message must not be captured")
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 105); !processed {
		t.Error("non-matching message must be marked processed")
	}
}

func TestProcessEvent_SenderMetadataBestEffort(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ev := event(106, "ищу квартиру")
	ev.Sender = bus.Sender{Kind: bus.SenderUnknown}
	if err := p.ingestor.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	msg, _ := p.stores.Messages.GetMessageByID(ctx, 106)
	if msg == nil {
		t.Fatal("message not captured")
	}
	if msg.SenderID != nil || msg.FirstName != nil || msg.Username != nil {
		t.Error("unknown sender must leave metadata fields null")
	}
}
