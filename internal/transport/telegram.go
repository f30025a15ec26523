package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/config"
	"github.com/propsift/propsift/internal/store"
)

// TelegramClient implements Client over the Telegram Bot API using long
// polling. The Bot API has no history endpoint, so History returns
// ErrHistoryUnsupported; everything else maps directly.
type TelegramClient struct {
	cfg        config.TelegramConfig
	auth       Authenticator
	bot        *telego.Bot
	connected  bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewTelegramClient builds a client from config. The connection is not
// established until Connect. auth may be nil for non-interactive use.
func NewTelegramClient(cfg config.TelegramConfig, auth Authenticator) *TelegramClient {
	return &TelegramClient{cfg: cfg, auth: auth}
}

func (c *TelegramClient) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if c.cfg.Token == "" {
		if c.auth == nil {
			return fmt.Errorf("no stored credential: %w", ErrAuthRequired)
		}
		token, err := c.auth.Token(ctx)
		if err != nil {
			return fmt.Errorf("credential challenge: %w", err)
		}
		c.cfg.Token = token
	}

	var opts []telego.BotOption
	if c.cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(c.cfg.Proxy)
		if parseErr != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", c.cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(c.cfg.Token, opts...)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	// Validate the credential with a cheap authenticated call.
	if _, err := bot.GetMe(ctx); err != nil {
		return wrapAPIError(err)
	}

	c.bot = bot
	c.connected = true
	slog.Info("telegram transport connected", "username", bot.Username())
	return nil
}

func (c *TelegramClient) Disconnect(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	// Wait for the polling goroutine to exit so Telegram releases the
	// getUpdates lock before a new session starts.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
		c.pollDone = nil
	}
	c.connected = false
	c.bot = nil
	return nil
}

func (c *TelegramClient) Me(ctx context.Context) (*Entity, error) {
	if !c.connected {
		return nil, fmt.Errorf("not connected: %w", ErrAuthRequired)
	}
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return &Entity{
		ID:        me.ID,
		Kind:      store.ChatDirect,
		FirstName: me.FirstName,
		Username:  me.Username,
	}, nil
}

func (c *TelegramClient) Events(ctx context.Context) (<-chan bus.Event, error) {
	if !c.connected {
		return nil, fmt.Errorf("not connected: %w", ErrAuthRequired)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			"message",
			"channel_post",
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start long polling: %w", err)
	}

	events := make(chan bus.Event)
	go func() {
		defer close(events)
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				msg := update.Message
				if msg == nil {
					msg = update.ChannelPost
				}
				if msg == nil {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				select {
				case events <- toEvent(update.UpdateID, msg):
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (c *TelegramClient) ResolveEntity(ctx context.Context, ref string) (*Entity, error) {
	if !c.connected {
		return nil, fmt.Errorf("not connected: %w", ErrAuthRequired)
	}

	var chatID telego.ChatID
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		chatID = tu.ID(id)
	} else {
		chatID = tu.Username(ref)
	}

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return &Entity{
		ID:        chat.ID,
		Kind:      store.KindFromChatType(chat.Type),
		Title:     chat.Title,
		Username:  chat.Username,
		FirstName: chat.FirstName,
	}, nil
}

func (c *TelegramClient) SendMessage(ctx context.Context, out Outgoing) error {
	if !c.connected {
		return fmt.Errorf("not connected: %w", ErrAuthRequired)
	}

	msg := tu.Message(tu.ID(out.ChatID), out.Text)
	if out.ThreadID > 0 {
		msg.MessageThreadID = out.ThreadID
	}
	if out.HTML {
		msg.ParseMode = telego.ModeHTML
	}
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

func (c *TelegramClient) History(_ context.Context, _ int64, _ time.Time, _ int) ([]bus.Event, error) {
	return nil, ErrHistoryUnsupported
}

func toEvent(updateID int, msg *telego.Message) bus.Event {
	ev := bus.Event{
		UpdateID:  int64(updateID),
		MessageID: int64(msg.MessageID),
		ChatID:    msg.Chat.ID,
		ChatKind:  store.KindFromChatType(msg.Chat.Type),
		ChatTitle: msg.Chat.Title,
		Date:      time.Unix(msg.Date, 0),
		Text:      msg.Text,
		Sender:    bus.Sender{Kind: bus.SenderUnknown},
	}
	if msg.From != nil {
		ev.Sender = bus.Sender{
			Kind:      bus.SenderUser,
			ID:        msg.From.ID,
			FirstName: msg.From.FirstName,
			Username:  msg.From.Username,
		}
	}
	// Only channel origins expose the source message id.
	if origin, ok := msg.ForwardOrigin.(*telego.MessageOriginChannel); ok {
		ev.OriginalMessageID = int64(origin.MessageID)
	}
	return ev
}

// wrapAPIError maps Bot API failures onto the transport's typed
// conditions so callers can retry the exact operation that raised them.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Parameters != nil {
		if apiErr.Parameters.RetryAfter > 0 {
			return &CooldownError{Wait: time.Duration(apiErr.Parameters.RetryAfter) * time.Second}
		}
		if apiErr.Parameters.MigrateToChatID != 0 {
			return &MigratedError{Target: apiErr.Parameters.MigrateToChatID}
		}
	}
	switch apiErr.ErrorCode {
	case 401:
		return fmt.Errorf("%s: %w", apiErr.Description, ErrAuthRequired)
	case 400, 403:
		desc := strings.ToLower(apiErr.Description)
		if strings.Contains(desc, "not found") || strings.Contains(desc, "kicked") {
			return fmt.Errorf("%s: %w", apiErr.Description, ErrEntityNotResolvable)
		}
	}
	return err
}
