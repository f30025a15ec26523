// Package sqlite is the standalone storage backend, a single-file
// database opened through modernc.org/sqlite. Schema is created on open;
// the managed (postgres) backend uses golang-migrate instead.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/propsift/propsift/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	update_id           INTEGER NOT NULL DEFAULT 0,
	message_id          INTEGER PRIMARY KEY,
	chat_id             INTEGER NOT NULL,
	chat_kind           TEXT NOT NULL DEFAULT 'unknown',
	sender_id           INTEGER,
	first_name          TEXT,
	username            TEXT,
	date                TIMESTAMP NOT NULL,
	text                TEXT NOT NULL DEFAULT '',
	original_message_id INTEGER,
	sent_to_relay       INTEGER NOT NULL DEFAULT 0,
	sent_to_webhook     INTEGER NOT NULL DEFAULT 0,
	parsed_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS processed (
	message_id   INTEGER PRIMARY KEY,
	processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	chat_id    INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(owner_id, chat_id)
);
CREATE TABLE IF NOT EXISTS keywords (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	polarity   TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'classic',
	term       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(owner_id, polarity, category, term)
);
`

// Store implements all four storage contracts over one sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer: sqlite serializes writes anyway, and a single conn
	// avoids SQLITE_BUSY under concurrent marker writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Stores returns the contract bundle backed by this store.
func (s *Store) Stores() store.Stores {
	return store.Stores{Messages: s, Dedup: s, Subscriptions: s, Keywords: s}
}

// --- MessageStore ---

func (s *Store) SaveMessage(ctx context.Context, msg store.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages
		 (update_id, message_id, chat_id, chat_kind, sender_id, first_name, username, date, text, original_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		 FROM messages WHERE message_id = ?`, messageID)

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
		"SELECT "+column+" FROM messages WHERE message_id = ?", messageID).Scan(&sent)
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
		"UPDATE messages SET "+column+" = 1 WHERE message_id = ?", messageID)
	if err != nil {
		return fmt.Errorf("set %s for %d: %w", column, messageID, err)
	}
	return nil
}

// --- DedupStore ---

func (s *Store) IsProcessed(ctx context.Context, messageID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed WHERE message_id = ?", messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check processed %d: %w", messageID, err)
	}
	return n > 0, nil
}

func (s *Store) MarkProcessed(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed (message_id) VALUES (?)", messageID)
	if err != nil {
		return fmt.Errorf("mark processed %d: %w", messageID, err)
	}
	return nil
}

// --- SubscriptionStore ---

func (s *Store) AddSubscription(ctx context.Context, ownerID string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (id, owner_id, chat_id) VALUES (?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), ownerID, chatID)
	if err != nil {
		return fmt.Errorf("add subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, ownerID string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE owner_id = ? AND chat_id = ?", ownerID, chatID)
	if err != nil {
		return fmt.Errorf("remove subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return nil
}

func (s *Store) SubscriptionExists(ctx context.Context, ownerID string, chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subscriptions WHERE owner_id = ? AND chat_id = ?",
		ownerID, chatID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check subscription (%s, %d): %w", ownerID, chatID, err)
	}
	return n > 0, nil
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
	query := "SELECT id, owner_id, chat_id, created_at FROM subscriptions"
	args := []interface{}{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if kw.ID == "" {
		kw.ID = uuid.Must(uuid.NewV7()).String()
	}
	if kw.Category == "" {
		kw.Category = store.DefaultCategory
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (id, owner_id, polarity, category, term)
		 VALUES (?, ?, ?, ?, ?)`,
		kw.ID, kw.OwnerID, string(kw.Polarity), kw.Category, kw.Term)
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
		"DELETE FROM keywords WHERE owner_id = ? AND polarity = ? AND category = ? AND term = ?",
		ownerID, string(polarity), category, term)
	if err != nil {
		return fmt.Errorf("remove keyword %q: %w", term, err)
	}
	return nil
}

func (s *Store) ListKeywords(ctx context.Context, ownerID string) ([]store.Keyword, error) {
	query := "SELECT id, owner_id, polarity, category, term, created_at FROM keywords"
	args := []interface{}{}
	if ownerID != "" {
		query += " WHERE owner_id = ? OR owner_id = ''"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at"
	return s.queryKeywords(ctx, query, args...)
}

func (s *Store) KeywordsByPolarity(ctx context.Context, polarity store.Polarity) ([]store.Keyword, error) {
	return s.queryKeywords(ctx,
		"SELECT id, owner_id, polarity, category, term, created_at FROM keywords WHERE polarity = ?",
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
