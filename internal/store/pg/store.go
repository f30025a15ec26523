// Package pg is the managed storage backend over Postgres (pgx stdlib
// driver). Schema is owned by golang-migrate, see migrations/.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propsift/propsift/internal/store"
)

// Store implements all four storage contracts over one Postgres pool.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened Postgres handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Stores returns the contract bundle backed by this store.
func (s *Store) Stores() store.Stores {
	return store.Stores{Messages: s, Dedup: s, Subscriptions: s, Keywords: s}
}

// --- MessageStore ---

func (s *Store) SaveMessage(ctx context.Context, msg store.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (update_id, message_id, chat_id, chat_kind, sender_id, first_name, username, date, text, original_message_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (message_id) DO NOTHING`,
		msg.UpdateID, msg.MessageID, msg.ChatID, string(msg.ChatKind),
		msg.SenderID, msg.FirstName, msg.Username, msg.Date.UTC(), msg.Text, msg.OriginalMessageID,
	)
	if err != nil {
		return fmt.Errorf("save message %d: %w", msg.MessageID, err)
	}
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, messageID int64) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT update_id, message_id, chat_id, chat_kind, sender_id, first_name, username,
		        date, text, original_message_id, sent_to_relay, sent_to_webhook
		 FROM messages WHERE message_id = $1`, messageID)

	var msg store.Message
	var kind string
	var senderID, origID sql.NullInt64
	var firstName, username sql.NullString
	var date time.Time
	err := row.Scan(&msg.UpdateID, &msg.MessageID, &msg.ChatID, &kind,
		&senderID, &firstName, &username, &date, &msg.Text, &origID,
		&msg.SentToRelay, &msg.SentToWebhook)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", messageID, err)
	}
	msg.ChatKind = store.ChatKind(kind)
	msg.Date = date
	if senderID.Valid {
		msg.SenderID = &senderID.Int64
	}
	if firstName.Valid {
		msg.FirstName = &firstName.String
	}
	if username.Valid {
		msg.Username = &username.String
	}
	if origID.Valid {
		msg.OriginalMessageID = &origID.Int64
	}
	return &msg, nil
}

func (s *Store) WasSentToRelay(ctx context.Context, messageID int64) (bool, error) {
	return s.sentFlag(ctx, "sent_to_relay", messageID)
}

func (s *Store) MarkSentToRelay(ctx context.Context, messageID int64) error {
	return s.setSentFlag(ctx, "sent_to_relay", messageID)
}

func (s *Store) WasSentToWebhook(ctx context.Context, messageID int64) (bool, error) {
	return s.sentFlag(ctx, "sent_to_webhook", messageID)
}

func (s *Store) MarkSentToWebhook(ctx context.Context, messageID int64) error {
	return s.setSentFlag(ctx, "sent_to_webhook", messageID)
}

func (s *Store) sentFlag(ctx context.Context, column string, messageID int64) (bool, error) {
	var sent bool
	err := s.db.QueryRowContext(ctx,
		"SELECT "+column+" FROM messages WHERE message_id = $1", messageID).Scan(&sent)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s for %d: %w", column, messageID, err)
	}
	return sent, nil
}

func (s *Store) setSentFlag(ctx context.Context, column string, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET "+column+" = TRUE WHERE message_id = $1", messageID)
	if err != nil {
		return fmt.Errorf("set %s for %d: %w", column, messageID, err)
	}
	return nil
}

// --- DedupStore ---

func (s *Store) IsProcessed(ctx context.Context, messageID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed WHERE message_id = $1)", messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed %d: %w", messageID, err)
	}
	return exists, nil
}

func (s *Store) MarkProcessed(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed (message_id) VALUES ($1) ON CONFLICT (message_id) DO NOTHING", messageID)
	if err != nil {
		return fmt.Errorf("mark processed %d: %w", messageID, err)
	}
	return nil
}

// --- SubscriptionStore ---

func (s *Store) AddSubscription(ctx context.Context, ownerID string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, owner_id, chat_id) VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, chat_id) DO NOTHING`,
		uuid.Must(uuid.NewV7()), ownerID, chatID)
	if err != nil {
		return fmt.Errorf("add subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, ownerID string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE owner_id = $1 AND chat_id = $2", ownerID, chatID)
	if err != nil {
		return fmt.Errorf("remove subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return nil
}

func (s *Store) SubscriptionExists(ctx context.Context, ownerID string, chatID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM subscriptions WHERE owner_id = $1 AND chat_id = $2)",
		ownerID, chatID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return exists, nil
}

func (s *Store) ListTrackedChats(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT chat_id FROM subscriptions")
	if err != nil {
		return nil, fmt.Errorf("list tracked chats: %w", err)
	}
	defer rows.Close()

	chats := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tracked chat: %w", err)
		}
		chats[id] = struct{}{}
	}
	return chats, rows.Err()
}

func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]store.Subscription, error) {
	var rows *sql.Rows
	var err error
	if ownerID != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, owner_id, chat_id, created_at FROM subscriptions WHERE owner_id = $1 ORDER BY created_at", ownerID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, owner_id, chat_id, created_at FROM subscriptions ORDER BY created_at")
	}
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []store.Subscription
	for rows.Next() {
		var sub store.Subscription
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.ChatID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// --- KeywordStore ---

func (s *Store) AddKeyword(ctx context.Context, kw store.Keyword) error {
	id := kw.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	category := kw.Category
	if category == "" {
		category = store.DefaultCategory
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (id, owner_id, polarity, category, term)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, polarity, category, term) DO NOTHING`,
		id, kw.OwnerID, string(kw.Polarity), category, kw.Term)
	if err != nil {
		return fmt.Errorf("add keyword %q: %w", kw.Term, err)
	}
	return nil
}

func (s *Store) RemoveKeyword(ctx context.Context, ownerID string, polarity store.Polarity, category, term string) error {
	if category == "" {
		category = store.DefaultCategory
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM keywords WHERE owner_id = $1 AND polarity = $2 AND category = $3 AND term = $4",
		ownerID, string(polarity), category, term)
	if err != nil {
		return fmt.Errorf("remove keyword %q: %w", term, err)
	}
	return nil
}

func (s *Store) ListKeywords(ctx context.Context, ownerID string) ([]store.Keyword, error) {
	if ownerID != "" {
		return s.queryKeywords(ctx,
			`SELECT id, owner_id, polarity, category, term, created_at FROM keywords
			 WHERE owner_id = $1 OR owner_id = '' ORDER BY created_at`, ownerID)
	}
	return s.queryKeywords(ctx,
		"SELECT id, owner_id, polarity, category, term, created_at FROM keywords ORDER BY created_at")
}

func (s *Store) KeywordsByPolarity(ctx context.Context, polarity store.Polarity) ([]store.Keyword, error) {
	return s.queryKeywords(ctx,
		"SELECT id, owner_id, polarity, category, term, created_at FROM keywords WHERE polarity = $1",
		string(polarity))
}

func (s *Store) queryKeywords(ctx context.Context, query string, args ...interface{}) ([]store.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var kws []store.Keyword
	for rows.Next() {
		var kw store.Keyword
		var polarity string
		if err := rows.Scan(&kw.ID, &kw.OwnerID, &polarity, &kw.Category, &kw.Term, &kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.Polarity = store.Polarity(polarity)
		kws = append(kws, kw)
	}
	return kws, rows.Err()
}
