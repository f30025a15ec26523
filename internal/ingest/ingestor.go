// Package ingest turns each raw transport event into exactly one
// pipeline decision: discard, mark processed, or capture-and-forward.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/forward"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
)

// ErrSessionLost is returned by Run when the session cannot be
// re-established; operator intervention is required.
var ErrSessionLost = errors.New("ingest: session lost and could not be re-established")

// Ingestor is the long-lived pipeline task.
type Ingestor struct {
	bus     *bus.MessageBus
	session *session.Manager
	stores  store.Stores
	engine  *keyword.Engine
	fwd     *forward.Forwarder

	maxReconnectAttempts int
}

// New wires the pipeline.
func New(msgBus *bus.MessageBus, sess *session.Manager, stores store.Stores, engine *keyword.Engine, fwd *forward.Forwarder, maxReconnectAttempts int) *Ingestor {
	if maxReconnectAttempts < 1 {
		maxReconnectAttempts = 3
	}
	return &Ingestor{
		bus:                  msgBus,
		session:              sess,
		stores:               stores,
		engine:               engine,
		fwd:                  fwd,
		maxReconnectAttempts: maxReconnectAttempts,
	}
}

// Run subscribes to the live event stream and drives every event
// through the pipeline until ctx is cancelled or the session is lost
// for good. Events are handled one at a time in delivery order;
// cancellation is honored between events, never mid-pipeline.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		events, err := i.session.Events(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to events: %w", err)
		}
		slog.Info("ingestion started")

		// The pump keeps bus publication decoupled from pipeline
		// latency; streamCtx ends when the live stream closes.
		streamCtx, streamEnded := context.WithCancel(ctx)
		go func() {
			defer streamEnded()
			for ev := range events {
				i.bus.PublishInbound(ev)
			}
		}()

		for {
			ev, ok := i.bus.ConsumeInbound(streamCtx)
			if !ok {
				break
			}
			i.handle(ctx, ev)
			if ctx.Err() != nil {
				streamEnded()
				return ctx.Err()
			}
		}
		streamEnded()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("live event stream closed, attempting to recover session")
		if !i.session.Reconnect(ctx, i.maxReconnectAttempts) {
			return ErrSessionLost
		}
	}
}

// handle wraps ProcessEvent with error logging; pipeline errors never
// abort the ingestion task.
func (i *Ingestor) handle(ctx context.Context, ev bus.Event) {
	if err := i.ProcessEvent(ctx, ev); err != nil {
		slog.Error("pipeline error",
			"message_id", ev.MessageID, "chat_id", ev.ChatID, "error", err)
	}
}

// ProcessEvent runs one event through the pipeline:
//
//  1. discard when the chat is not tracked (no marker: the event is
//     invisible, not "processed")
//  2. discard when already processed
//  3. mark processed without forwarding when there is no text body
//  4. evaluate keywords; on match persist, forward, then mark processed
//
// The processed marker is always written after any forward dispatch, so
// a crash in between yields at most one duplicate forward on restart,
// never a lost match.
func (i *Ingestor) ProcessEvent(ctx context.Context, ev bus.Event) error {
	chatID := store.NormalizeChatID(ev.ChatID, ev.ChatKind)

	tracked, err := i.stores.Subscriptions.ListTrackedChats(ctx)
	if err != nil {
		return fmt.Errorf("list tracked chats: %w", err)
	}
	if _, ok := tracked[chatID]; !ok {
		return nil
	}

	processed, err := i.stores.Dedup.IsProcessed(ctx, ev.MessageID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if processed {
		slog.Debug("duplicate event discarded", "message_id", ev.MessageID, "chat_id", chatID)
		return nil
	}

	if strings.TrimSpace(ev.Text) == "" {
		// Non-text content is out of scope for filtering.
		return i.markProcessed(ctx, ev.MessageID)
	}

	matched, err := i.engine.Matches(ctx, ev.Text)
	if err != nil {
		return fmt.Errorf("keyword evaluation: %w", err)
	}
	if !matched {
		return i.markProcessed(ctx, ev.MessageID)
	}

	if err := i.stores.Messages.SaveMessage(ctx, toMessage(ev, chatID)); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	slog.Info("message matched", "message_id", ev.MessageID, "chat_id", chatID)

	i.fwd.Deliver(ctx, ev.MessageID)

	return i.markProcessed(ctx, ev.MessageID)
}

func (i *Ingestor) markProcessed(ctx context.Context, messageID int64) error {
	if err := i.stores.Dedup.MarkProcessed(ctx, messageID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// toMessage builds the immutable captured record. Sender metadata is
// best-effort: for an unknown sender the fields stay null rather than
// blocking capture.
func toMessage(ev bus.Event, chatID int64) store.Message {
	msg := store.Message{
		UpdateID:  ev.UpdateID,
		MessageID: ev.MessageID,
		ChatID:    chatID,
		ChatKind:  ev.ChatKind,
		Date:      ev.Date,
		Text:      ev.Text,
	}
	if ev.Sender.Kind == bus.SenderUser {
		id := ev.Sender.ID
		msg.SenderID = &id
		if ev.Sender.FirstName != "" {
			name := ev.Sender.FirstName
			msg.FirstName = &name
		}
		if ev.Sender.Username != "" {
			handle := ev.Sender.Username
			msg.Username = &handle
		}
	}
	if ev.OriginalMessageID != 0 {
		orig := ev.OriginalMessageID
		msg.OriginalMessageID = &orig
	}
	return msg
}
