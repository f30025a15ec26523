// Package session owns the single authenticated connection to the chat
// transport. All transport calls serialize through the manager's mutex;
// ingestion proceeds only from the Authenticated state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propsift/propsift/internal/bus"
	"github.com/propsift/propsift/internal/transport"
)

// State is the connection lifecycle state. Disconnected is both initial
// and terminal on fatal auth failure.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Degraded
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Backoff bounds for the first reconnect attempt; the band doubles per
// attempt.
const (
	backoffMin = 5 * time.Second
	backoffMax = 10 * time.Second
)

// Manager maintains exactly one authenticated transport connection.
type Manager struct {
	mu     sync.Mutex // serializes all transport calls
	client transport.Client
	state  atomic.Int32

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewManager wraps a transport client. The connection is established by
// Connect.
func NewManager(client transport.Client) *Manager {
	return &Manager{
		client: client,
		sleep:  sleepCtx,
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

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		slog.Debug("session state changed", "from", old.String(), "to", s.String())
	}
}

// Connect establishes the transport connection. Calling while already
// authenticated is a no-op. Fails with transport.ErrAuthRequired when
// the credential challenge cannot complete non-interactively.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.State() == Authenticated {
		return nil
	}
	m.setState(Connecting)
	if err := m.client.Connect(ctx); err != nil {
		m.setState(Disconnected)
		return fmt.Errorf("connect: %w", err)
	}
	m.setState(Authenticated)
	return nil
}

// Disconnect releases the connection. Always succeeds and is safe from
// any state.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(ctx)
}

func (m *Manager) disconnectLocked(ctx context.Context) {
	if err := m.client.Disconnect(ctx); err != nil {
		slog.Warn("transport disconnect failed", "error", err)
	}
	m.setState(Disconnected)
}

// HealthCheck performs a cheap authenticated call. Returns false (never
// an error) on any failure, moving the state to Degraded.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Authenticated {
		return false
	}
	if _, err := m.client.Me(ctx); err != nil {
		slog.Warn("session health check failed", "error", err)
		m.setState(Degraded)
		return false
	}
	return true
}

// Reconnect tears the connection down and re-establishes it, retrying
// up to maxAttempts with jittered exponential backoff. Returns false
// immediately, without retrying, when re-authentication is required —
// that is fatal for automated recovery. An explicit loop, not
// recursion, so stack depth and cancellation stay predictable.
func (m *Manager) Reconnect(ctx context.Context, maxAttempts int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxAttempts < 1 {
		maxAttempts = 1
	}
	m.setState(Reconnecting)

	lo, hi := backoffMin, backoffMax
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		m.disconnectLocked(ctx)
		err := m.connectLocked(ctx)
		if err == nil {
			slog.Info("reconnected", "attempt", attempt, "max_attempts", maxAttempts)
			return true
		}
		if errors.Is(err, transport.ErrAuthRequired) {
			slog.Error("reauthorization required, giving up", "error", err)
			m.setState(Disconnected)
			return false
		}
		if attempt < maxAttempts {
			wait := lo + time.Duration(rand.Float64()*float64(hi-lo))
			slog.Warn("reconnect attempt failed, retrying",
				"attempt", attempt, "max_attempts", maxAttempts, "wait", wait, "error", err)
			m.setState(Reconnecting)
			if !m.sleep(ctx, wait) {
				m.setState(Disconnected)
				return false
			}
			lo, hi = lo*2, hi*2
		}
	}
	slog.Error("max reconnection attempts reached", "max_attempts", maxAttempts)
	m.setState(Disconnected)
	return false
}

// Events opens the live event stream. Valid only while authenticated.
func (m *Manager) Events(ctx context.Context) (<-chan bus.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Authenticated {
		return nil, fmt.Errorf("session not authenticated (state %s)", m.State())
	}
	return m.client.Events(ctx)
}

// Do runs fn with the transport client under the connection lock. Use
// for every transport call outside the manager's own lifecycle methods.
func (m *Manager) Do(ctx context.Context, fn func(transport.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m.client)
}

// SendTestMessage sends a self-message proving the authenticated
// session end to end.
func (m *Manager) SendTestMessage(ctx context.Context) error {
	return m.Do(ctx, func(c transport.Client) error {
		me, err := c.Me(ctx)
		if err != nil {
			return fmt.Errorf("resolve self: %w", err)
		}
		err = c.SendMessage(ctx, transport.Outgoing{
			ChatID: me.ID,
			Text:   "PropSift activated. This is a test message.",
		})
		if err != nil {
			return fmt.Errorf("send test message: %w", err)
		}
		slog.Info("test message sent", "self_id", me.ID)
		return nil
	})
}
