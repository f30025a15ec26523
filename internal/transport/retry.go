package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// cooldownMargin is added on top of the server-requested wait.
const cooldownMargin = time.Second

// Retryer re-runs an operation across the transport's retryable
// conditions. A cooldown suspends exactly the operation that raised it
// and retries it after the requested wait; a migration invokes OnRebind
// once and transparently retries. Neither condition ever escapes as an
// operation failure or advances any caller-side cursor.
type Retryer struct {
	// OnRebind rebinds the session to the migrated target. Nil means
	// migration still gets its single transparent retry, with the new
	// target expected to be picked up server-side.
	OnRebind func(ctx context.Context, target int64) error

	// Sleep is swapped out in tests. Nil uses a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// the context is cancelled.
func (r Retryer) Do(ctx context.Context, op func() error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) bool {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d):
				return true
			}
		}
	}

	rebound := false
	for {
		err := op()
		if err == nil {
			return nil
		}

		var cd *CooldownError
		if errors.As(err, &cd) {
			wait := cd.Wait + cooldownMargin
			slog.Warn("cooldown requested, suspending operation", "wait", wait)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		var mig *MigratedError
		if errors.As(err, &mig) && !rebound {
			rebound = true
			slog.Info("target migrated, rebinding", "target", mig.Target)
			if r.OnRebind != nil {
				if rerr := r.OnRebind(ctx, mig.Target); rerr != nil {
					return rerr
				}
			}
			continue
		}

		return err
	}
}
