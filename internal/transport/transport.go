// Package transport defines the remote chat transport contract the
// session manager owns. Retryable conditions (cooldown, migration) are
// typed errors so callers can suspend-and-retry the exact operation
// that raised them instead of failing the pipeline.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/store"
)

// ErrAuthRequired means the stored credential is absent or no longer
// valid and the challenge cannot complete non-interactively. Fatal for
// automated recovery.
var ErrAuthRequired = errors.New("transport: authentication required")

// ErrEntityNotResolvable means the given chat/user reference does not
// resolve to an entity the session can see.
var ErrEntityNotResolvable = errors.New("transport: entity not resolvable")

// ErrHistoryUnsupported is returned by clients whose backing API cannot
// iterate chat history (the Bot API exposes no such endpoint).
var ErrHistoryUnsupported = errors.New("transport: history iteration not supported")

// CooldownError is the server telling us to suspend the operation that
// triggered it for Wait before retrying. Never fatal, never advances a
// cursor.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("transport: cooldown for %s", e.Wait)
}

// MigratedError is the server telling us the target moved; the caller
// must rebind to Target and transparently retry the operation once.
type MigratedError struct {
	Target int64
}

func (e *MigratedError) Error() string {
	return fmt.Sprintf("transport: target migrated to %d", e.Target)
}

// Entity is a resolved remote chat or user.
type Entity struct {
	ID        int64
	Kind      store.ChatKind
	Title     string
	Username  string
	FirstName string
}

// Outgoing is a message to deliver through the transport.
type Outgoing struct {
	ChatID   int64
	ThreadID int // forum topic, 0 = none
	Text     string
	HTML     bool
}

// Authenticator supplies the credential interactively when none is
// stored. A nil authenticator means the challenge cannot complete and
// Connect must fail with ErrAuthRequired.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
}

// Client is the authenticated connection to the remote transport. All
// calls are serialized by the session manager; implementations need not
// be safe for concurrent use.
type Client interface {
	// Connect establishes and validates the connection. Returns
	// ErrAuthRequired when no valid credential exists and the
	// interactive challenge cannot complete.
	Connect(ctx context.Context) error
	// Disconnect releases the connection. Safe from any state.
	Disconnect(ctx context.Context) error
	// Me performs a cheap authenticated "who am I" call.
	Me(ctx context.Context) (*Entity, error)
	// Events returns the live event stream. The channel closes when the
	// context is cancelled or the connection drops.
	Events(ctx context.Context) (<-chan bus.Event, error)
	// ResolveEntity resolves a numeric id or @handle.
	ResolveEntity(ctx context.Context, ref string) (*Entity, error)
	// SendMessage delivers one outgoing message.
	SendMessage(ctx context.Context, out Outgoing) error
	// History returns up to limit messages of a chat older than before,
	// newest first. May return ErrHistoryUnsupported.
	History(ctx context.Context, chatID int64, before time.Time, limit int) ([]bus.Event, error)
}
