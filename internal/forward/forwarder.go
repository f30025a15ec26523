// Package forward delivers accepted messages to the configured sinks:
// the relay supergroup topic, the outbound webhook, and direct replies.
// Every sink is best-effort and independently failable; a send failure
// never blocks marking the message processed, and each sink keeps its
// own durable "sent" marker.
package forward

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/keyword"
	"github.com/propsift/propsift/internal/session"
	"github.com/propsift/propsift/internal/store"
	"github.com/propsift/propsift/internal/transport"
)

// Forwarder sends accepted messages to sinks.
type Forwarder struct {
	session *session.Manager
	msgs    store.MessageStore
	engine  *keyword.Engine
	webhook *WebhookSink
	limiter *rate.Limiter

	mu    sync.RWMutex
	relay config.RelayConfig
}

// New creates a Forwarder. webhook may be nil when the sink is disabled.
func New(sess *session.Manager, msgs store.MessageStore, engine *keyword.Engine, relay config.RelayConfig, webhook *WebhookSink) *Forwarder {
	return &Forwarder{
		session: sess,
		msgs:    msgs,
		engine:  engine,
		webhook: webhook,
		relay:   relay,
		// One send per second keeps the relay under the Bot API's
		// per-chat limit.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// Reconfigure swaps the relay target, used by config hot reload.
func (f *Forwarder) Reconfigure(relay config.RelayConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relay = relay
}

func (f *Forwarder) relayConfig() config.RelayConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.relay
}

// Deliver sends the message to every configured sink. Failures are
// logged per sink and isolated from one another; Deliver never fails
// the pipeline.
func (f *Forwarder) Deliver(ctx context.Context, messageID int64) {
	if f.relayConfig().Enabled {
		if err := f.SendToRelay(ctx, messageID); err != nil {
			slog.Error("relay forward failed", "message_id", messageID, "error", err)
		}
	}
	if f.webhook != nil {
		if err := f.SendToWebhook(ctx, messageID); err != nil {
			slog.Error("webhook forward failed", "message_id", messageID, "error", err)
		}
	}
}

// SendToRelay formats a human-readable summary of the stored message and
// sends it to the relay supergroup topic, then sets the relay sent
// marker. Skips silently when the message was already relayed or no
// longer matches the current keyword configuration.
func (f *Forwarder) SendToRelay(ctx context.Context, messageID int64) error {
	msg, err := f.msgs.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("no stored message %d", messageID)
	}

	sent, err := f.msgs.WasSentToRelay(ctx, messageID)
	if err != nil {
		return err
	}
	if sent {
		slog.Debug("message already relayed, skipping", "message_id", messageID)
		return nil
	}

	matched, err := f.engine.Matches(ctx, msg.Text)
	if err != nil {
		return fmt.Errorf("re-check keywords: %w", err)
	}
	if !matched {
		slog.Debug("message no longer matches filter, skipping relay", "message_id", messageID)
		return nil
	}

	// Chat title/link are presentation only; resolution failures
	// degrade to an id-only header.
	var entity *transport.Entity
	_ = f.session.Do(ctx, func(c transport.Client) error {
		e, rerr := c.ResolveEntity(ctx, strconv.FormatInt(msg.ChatID, 10))
		if rerr != nil {
			slog.Warn("relay: chat entity not resolvable", "chat_id", msg.ChatID, "error", rerr)
			return nil
		}
		entity = e
		return nil
	})

	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	relay := f.relayConfig()
	out := transport.Outgoing{
		ChatID:   relay.ChatID,
		ThreadID: relay.TopicID,
		Text:     formatRelaySummary(msg, entity),
		HTML:     true,
	}

	retry := transport.Retryer{OnRebind: func(_ context.Context, target int64) error {
		out.ChatID = target
		return nil
	}}
	err = retry.Do(ctx, func() error {
		return f.session.Do(ctx, func(c transport.Client) error {
			return c.SendMessage(ctx, out)
		})
	})
	if err != nil {
		return fmt.Errorf("relay send: %w", err)
	}

	if err := f.msgs.MarkSentToRelay(ctx, messageID); err != nil {
		return fmt.Errorf("mark relayed: %w", err)
	}
	slog.Info("message relayed", "message_id", messageID, "chat_id", msg.ChatID)
	return nil
}

// SendToWebhook posts the full message record to the configured webhook
// and sets the webhook sent marker.
func (f *Forwarder) SendToWebhook(ctx context.Context, messageID int64) error {
	if f.webhook == nil {
		return errors.New("webhook sink not configured")
	}

	msg, err := f.msgs.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("no stored message %d", messageID)
	}

	sent, err := f.msgs.WasSentToWebhook(ctx, messageID)
	if err != nil {
		return err
	}
	if sent {
		slog.Debug("message already sent to webhook, skipping", "message_id", messageID)
		return nil
	}

	if err := f.webhook.Post(ctx, msg); err != nil {
		return err
	}
	if err := f.msgs.MarkSentToWebhook(ctx, messageID); err != nil {
		return fmt.Errorf("mark webhook sent: %w", err)
	}
	slog.Info("message sent to webhook", "message_id", messageID)
	return nil
}

// SendDirectReply sends plain text to an owner, resolving the reference
// through the transport.
func (f *Forwarder) SendDirectReply(ctx context.Context, ownerRef, text string) error {
	return f.session.Do(ctx, func(c transport.Client) error {
		entity, err := c.ResolveEntity(ctx, ownerRef)
		if err != nil {
			return fmt.Errorf("resolve owner %q: %w", ownerRef, err)
		}
		if err := c.SendMessage(ctx, transport.Outgoing{ChatID: entity.ID, Text: text}); err != nil {
			return fmt.Errorf("direct reply to %q: %w", ownerRef, err)
		}
		return nil
	})
}

// formatRelaySummary renders the relay message: chat title/link, sender
// name and handle, then the body.
func formatRelaySummary(msg *store.Message, entity *transport.Entity) string {
	title := strconv.FormatInt(msg.ChatID, 10)
	link := ""
	if entity != nil {
		if entity.Title != "" {
			title = entity.Title
		}
		if entity.Username != "" {
			link = "https://t.me/" + entity.Username
		}
	}

	header := fmt.Sprintf("<b>Chat:</b> <b>%s</b> <code>%d</code>", html.EscapeString(title), msg.ChatID)
	if link != "" {
		header += fmt.Sprintf(" — <a href=%q>link</a>", link)
	}

	name := "unknown"
	if msg.FirstName != nil && *msg.FirstName != "" {
		name = *msg.FirstName
	}
	handle := "not set"
	if msg.Username != nil && *msg.Username != "" {
		handle = "@" + *msg.Username
	}

	return fmt.Sprintf("%s\n<b>Name:</b> %s\n<b>Handle:</b> %s\n\n%s",
		header, html.EscapeString(name), html.EscapeString(handle), html.EscapeString(msg.Text))
}
