package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/transport"
)

// Pause band between chats during a sweep, so a backfill pass does not
// look like a scripted burst to the transport's rate limits.
const (
	sweepPauseMin = 5 * time.Second
	sweepPauseMax = 15 * time.Second
)

// Backfiller walks tracked chats backward through history and feeds
// each unseen message into the same pipeline live events go through.
type Backfiller struct {
	session  *session.Manager
	ingestor *Ingestor
	dedup    store.DedupStore
	subs     store.SubscriptionStore

	pageSize             int
	limiter              *rate.Limiter
	retry                transport.Retryer
	maxReconnectAttempts int

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewBackfiller wires a backfill task over the shared pipeline.
// ratePerSec paces per-message processing during a sweep.
func NewBackfiller(sess *session.Manager, ing *Ingestor, stores store.Stores, pageSize int, ratePerSec float64, maxReconnectAttempts int) *Backfiller {
	if pageSize < 1 {
		pageSize = 50
	}
	if ratePerSec <= 0 {
		ratePerSec = 0.5
	}
	if maxReconnectAttempts < 1 {
		maxReconnectAttempts = 3
	}
	return &Backfiller{
		session:              sess,
		ingestor:             ing,
		dedup:                stores.Dedup,
		subs:                 stores.Subscriptions,
		pageSize:             pageSize,
		limiter:              rate.NewLimiter(rate.Limit(ratePerSec), 1),
		retry:                transport.Retryer{},
		maxReconnectAttempts: maxReconnectAttempts,
		now:                  time.Now,
		sleep:                sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// RunScheduled runs SweepAll on the given cron schedule until ctx is
// cancelled. An empty schedule disables scheduled sweeps.
func (b *Backfiller) RunScheduled(ctx context.Context, schedule string) error {
	if schedule == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	g := gronx.New()
	if !g.IsValid(schedule) {
		return fmt.Errorf("invalid backfill schedule %q", schedule)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticker.C:
			due, err := g.IsDue(schedule, tick)
			if err != nil {
				slog.Warn("backfill schedule evaluation failed", "schedule", schedule, "error", err)
				continue
			}
			if !due {
				continue
			}
			if err := b.SweepAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("backfill sweep failed", "error", err)
			}
		}
	}
}

// SweepAll backfills every tracked chat in turn. A failing chat is
// logged and skipped; a lost session aborts the sweep.
func (b *Backfiller) SweepAll(ctx context.Context) error {
	tracked, err := b.subs.ListTrackedChats(ctx)
	if err != nil {
		return fmt.Errorf("list tracked chats: %w", err)
	}
	if len(tracked) == 0 {
		return nil
	}
	slog.Info("backfill sweep started", "chats", len(tracked))

	first := true
	for chatID := range tracked {
		if !first {
			pause := sweepPauseMin + time.Duration(rand.Float64()*float64(sweepPauseMax-sweepPauseMin))
			if !b.sleep(ctx, pause) {
				return ctx.Err()
			}
		}
		first = false

		if !b.session.HealthCheck(ctx) {
			if !b.session.Reconnect(ctx, b.maxReconnectAttempts) {
				return ErrSessionLost
			}
		}
		if err := b.BackfillChat(ctx, chatID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("backfill failed for chat, skipping", "chat_id", chatID, "error", err)
		}
	}
	slog.Info("backfill sweep finished", "chats", len(tracked))
	return nil
}

// BackfillChat pages backward through one chat's history, newest first,
// and stops at the first already-processed message: everything older
// was handled by a previous run. The page cursor steps one second
// behind the oldest message of each page, which guarantees forward
// progress at the cost of skipping any unfetched messages dated inside
// that final second.
func (b *Backfiller) BackfillChat(ctx context.Context, chatID int64) error {
	cursor := b.now()
	total := 0
	for {
		var page []bus.Event
		err := b.retry.Do(ctx, func() error {
			return b.session.Do(ctx, func(c transport.Client) error {
				events, err := c.History(ctx, chatID, cursor, b.pageSize)
				if err != nil {
					return err
				}
				page = events
				return nil
			})
		})
		if errors.Is(err, transport.ErrHistoryUnsupported) {
			slog.Debug("history iteration unsupported by transport, skipping backfill", "chat_id", chatID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch history page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, ev := range page {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
			processed, err := b.dedup.IsProcessed(ctx, ev.MessageID)
			if err != nil {
				return fmt.Errorf("dedup check: %w", err)
			}
			if processed {
				slog.Debug("reached processed history, stopping",
					"chat_id", chatID, "message_id", ev.MessageID, "new_messages", total)
				return nil
			}
			if err := b.ingestor.ProcessEvent(ctx, ev); err != nil {
				return fmt.Errorf("process historical message %d: %w", ev.MessageID, err)
			}
			total++
		}
		cursor = page[len(page)-1].Date.Add(-time.Second)
	}
	if total > 0 {
		slog.Info("backfill complete", "chat_id", chatID, "new_messages", total)
	}
	return nil
}
