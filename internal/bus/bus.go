// Package bus carries raw transport events from the session listener to
// the ingestion pipeline. A single buffered channel keeps per-chat
// ordering exactly as the transport delivered it and gives the ingestor
// one blocking pull point with explicit cancellation.
package bus

import (
	"context"
	"time"

	"github.com/propsift/propsift/internal/store"
)

// SenderKind tags the sender variant of an event.
type SenderKind string

const (
	SenderUser    SenderKind = "user"
	SenderUnknown SenderKind = "unknown"
)

// Sender is the message author. Fields beyond Kind are only meaningful
// for SenderUser; metadata resolution is best-effort, so any of them may
// be empty even then.
type Sender struct {
	Kind      SenderKind
	ID        int64
	FirstName string
	Username  string
}

// Event is one raw message event as delivered by the transport. ChatID
// is the raw transport id; the pipeline normalizes it before any store
// lookup.
type Event struct {
	UpdateID          int64
	MessageID         int64
	ChatID            int64
	ChatKind          store.ChatKind
	ChatTitle         string
	Sender            Sender
	Date              time.Time
	Text              string
	OriginalMessageID int64 // non-zero when the event is a forwarded copy
}

const inboundBuffer = 256

// MessageBus is the plumbing between the transport listener and the
// ingestor.
type MessageBus struct {
	inbound chan Event
}

// New creates a message bus.
func New() *MessageBus {
	return &MessageBus{inbound: make(chan Event, inboundBuffer)}
}

// PublishInbound enqueues an event for the pipeline. Blocks when the
// buffer is full: backpressure on the transport listener is preferable
// to dropping or reordering events.
func (b *MessageBus) PublishInbound(ev Event) {
	b.inbound <- ev
}

// ConsumeInbound blocks until an event arrives or ctx is cancelled.
// Returns false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev := <-b.inbound:
		return ev, true
	}
}
