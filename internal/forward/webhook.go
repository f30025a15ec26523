package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/propsift/propsift/internal/store"
)

// WebhookSink POSTs captured message records as JSON to an external URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates the sink. Returns nil when url is empty.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// payload is the wire shape of a forwarded message record.
type payload struct {
	UpdateID          int64   `json:"update_id"`
	MessageID         int64   `json:"message_id"`
	ChatID            int64   `json:"chat_id"`
	ChatType          string  `json:"chat_type"`
	SenderID          *int64  `json:"sender_id"`
	FirstName         *string `json:"first_name"`
	Username          *string `json:"username"`
	Date              string  `json:"date"`
	Text              string  `json:"text"`
	OriginalMessageID *int64  `json:"original_message_id,omitempty"`
}

// Post delivers one message record. Non-2xx responses are errors.
func (w *WebhookSink) Post(ctx context.Context, msg *store.Message) error {
	body, err := json.Marshal(payload{
		UpdateID:          msg.UpdateID,
		MessageID:         msg.MessageID,
		ChatID:            msg.ChatID,
		ChatType:          string(msg.ChatKind),
		SenderID:          msg.SenderID,
		FirstName:         msg.FirstName,
		Username:          msg.Username,
		Date:              msg.Date.Format("2006-01-02 15:04:05"),
		Text:              msg.Text,
		OriginalMessageID: msg.OriginalMessageID,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
