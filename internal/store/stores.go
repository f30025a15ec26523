// Package store defines the storage contracts consumed by the ingestion
// pipeline: captured messages, processed markers, chat subscriptions and
// keyword terms. Backends live in store/sqlite (standalone) and store/pg
// (managed); both must provide atomic insert-if-absent semantics so that
// concurrent duplicate arrivals cannot double-process.
package store

import (
	"context"
	"time"
)

// ChatKind classifies a remote conversation entity.
type ChatKind string

const (
	ChatDirect  ChatKind = "direct"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
	ChatUnknown ChatKind = "unknown"
)

// Polarity is the filter direction of a keyword term.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

// DefaultCategory is the category assigned to terms created without one.
const DefaultCategory = "classic"

// GlobalOwner is the owner scope for terms that apply to every subscriber.
const GlobalOwner = ""

// Message is a captured chat message. Immutable once saved; the only
// permitted mutations are the per-sink sent markers.
type Message struct {
	UpdateID          int64
	MessageID         int64
	ChatID            int64 // canonical form, see NormalizeChatID
	ChatKind          ChatKind
	SenderID          *int64
	FirstName         *string
	Username          *string
	Date              time.Time
	Text              string
	OriginalMessageID *int64 // set when this row is a forwarded copy
	SentToRelay       bool
	SentToWebhook     bool
}

// Subscription is one owner watching one chat.
type Subscription struct {
	ID        string
	OwnerID   string
	ChatID    int64 // canonical form
	CreatedAt time.Time
}

// Keyword is one configured filter term.
type Keyword struct {
	ID        string
	OwnerID   string // GlobalOwner for global terms
	Polarity  Polarity
	Category  string
	Term      string // normalized: lowercase, trimmed
	CreatedAt time.Time
}

// MessageStore persists captured messages and their per-sink sent markers.
type MessageStore interface {
	// SaveMessage inserts the message, ignoring an existing row with the
	// same message id.
	SaveMessage(ctx context.Context, msg Message) error
	// GetMessageByID returns the stored message, or nil when absent.
	GetMessageByID(ctx context.Context, messageID int64) (*Message, error)
	WasSentToRelay(ctx context.Context, messageID int64) (bool, error)
	MarkSentToRelay(ctx context.Context, messageID int64) error
	WasSentToWebhook(ctx context.Context, messageID int64) (bool, error)
	MarkSentToWebhook(ctx context.Context, messageID int64) error
}

// DedupStore is the authoritative idempotency gate. MarkProcessed is
// insert-if-absent: marking twice is a no-op, never an error.
type DedupStore interface {
	IsProcessed(ctx context.Context, messageID int64) (bool, error)
	MarkProcessed(ctx context.Context, messageID int64) error
}

// SubscriptionStore tracks which chats are watched and by whom. All chat
// ids passed in must already be canonical (NormalizeChatID).
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, ownerID string, chatID int64) error
	RemoveSubscription(ctx context.Context, ownerID string, chatID int64) error
	SubscriptionExists(ctx context.Context, ownerID string, chatID int64) (bool, error)
	// ListTrackedChats returns the distinct chat ids across all owners.
	ListTrackedChats(ctx context.Context) (map[int64]struct{}, error)
	// ListSubscriptions returns subscriptions for one owner, or all when
	// ownerID is empty.
	ListSubscriptions(ctx context.Context, ownerID string) ([]Subscription, error)
}

// KeywordStore holds the configured filter terms.
type KeywordStore interface {
	AddKeyword(ctx context.Context, kw Keyword) error
	RemoveKeyword(ctx context.Context, ownerID string, polarity Polarity, category, term string) error
	// ListKeywords returns terms for one owner plus global terms, or all
	// terms when ownerID is empty.
	ListKeywords(ctx context.Context, ownerID string) ([]Keyword, error)
	// KeywordsByPolarity returns every term of the given polarity across
	// all owner scopes.
	KeywordsByPolarity(ctx context.Context, polarity Polarity) ([]Keyword, error)
}

// Stores bundles the four contracts a backend provides.
type Stores struct {
	Messages      MessageStore
	Dedup         DedupStore
	Subscriptions SubscriptionStore
	Keywords      KeywordStore
}
