package ingest

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/propsift/propsift/internal/bus"
)

func newBackfiller(p *pipeline) *Backfiller {
	b := NewBackfiller(p.ingestor.session, p.ingestor, p.stores, 2, 0.5, 3)
	b.limiter = rate.NewLimiter(rate.Inf, 1)
	b.now = func() time.Time { return time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC) }
	b.sleep = func(context.Context, time.Duration) bool { return true }
	return b
}

// historyEvent places a message n minutes before the backfill cursor.
func historyEvent(messageID int64, minutesBack int, text string) bus.Event {
	ev := event(messageID, text)
	ev.Date = time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC).Add(-time.Duration(minutesBack) * time.Minute)
	return ev
}

func TestBackfillChat_ProcessesUnseenHistory(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Newest first, page size 2 forces two fetches.
	p.client.history = map[int64][]bus.Event{
		-1000000000042: {
			historyEvent(203, 1, "ищу квартиру срочно"),
			historyEvent(202, 2, "хорошая погода"),
			historyEvent(201, 3, "сниму квартиру в центре"),
		},
	}

	b := newBackfiller(p)
	if err := b.BackfillChat(ctx, -1000000000042); err != nil {
		t.Fatalf("BackfillChat: %v", err)
	}

	if len(p.client.sent) != 2 {
		t.Fatalf("forwarded %d messages, want the 2 matching ones", len(p.client.sent))
	}
	for _, id := range []int64{201, 202, 203} {
		if processed, _ := p.stores.Dedup.IsProcessed(ctx, id); !processed {
			t.Errorf("message %d not marked processed", id)
		}
	}
}

func TestBackfillChat_StopsAtProcessedMessage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.client.history = map[int64][]bus.Event{
		-1000000000042: {
			historyEvent(212, 1, "ищу квартиру"),
			historyEvent(211, 2, "сдам квартиру"),
			historyEvent(210, 3, "ищу квартиру на лето"),
		},
	}
	// 211 was handled by a previous run; 210 must never be touched.
	if err := p.stores.Dedup.MarkProcessed(ctx, 211); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	b := newBackfiller(p)
	if err := b.BackfillChat(ctx, -1000000000042); err != nil {
		t.Fatalf("BackfillChat: %v", err)
	}

	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 212); !processed {
		t.Error("newest message should be processed before the stop point")
	}
	if processed, _ := p.stores.Dedup.IsProcessed(ctx, 210); processed {
		t.Error("messages older than the stop point must not be touched")
	}
}

func TestBackfillChat_HistoryUnsupportedIsNotAnError(t *testing.T) {
	p := newPipeline(t)

	b := newBackfiller(p)
	if err := b.BackfillChat(context.Background(), -1000000000042); err != nil {
		t.Fatalf("unsupported history should be skipped silently, got %v", err)
	}
	if len(p.client.sent) != 0 {
		t.Errorf("forwarded %d messages, want 0", len(p.client.sent))
	}
}

func TestSweepAll_PausesBetweenChats(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.stores.Subscriptions.AddSubscription(ctx, "owner", -1000000000043); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p.client.history = map[int64][]bus.Event{}

	b := newBackfiller(p)
	var pauses []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) bool {
		pauses = append(pauses, d)
		return true
	}

	if err := b.SweepAll(ctx); err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if len(pauses) != 1 {
		t.Fatalf("got %d pauses for 2 chats, want 1", len(pauses))
	}
	if pauses[0] < sweepPauseMin || pauses[0] > sweepPauseMax {
		t.Errorf("pause %v outside [%v, %v]", pauses[0], sweepPauseMin, sweepPauseMax)
	}
}

func TestSweepAll_NoTrackedChatsIsNoop(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.stores.Subscriptions.RemoveSubscription(ctx, "owner", -1000000000042); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	b := newBackfiller(p)
	if err := b.SweepAll(ctx); err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
}
