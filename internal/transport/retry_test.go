package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryer_CooldownWaitsThenRetriesOnce(t *testing.T) {
	var slept []time.Duration
	r := Retryer{
		Sleep: func(_ context.Context, d time.Duration) bool {
			slept = append(slept, d)
			return true
		},
	}

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &CooldownError{Wait: 30 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("operation ran %d times, want exactly 2 (one retry after cooldown)", calls)
	}
	if len(slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(slept))
	}
	if slept[0] < 30*time.Second {
		t.Errorf("waited %s, must wait at least the requested 30s", slept[0])
	}
}

func TestRetryer_MigrationRebindsAndRetriesOnce(t *testing.T) {
	var rebounds []int64
	r := Retryer{
		OnRebind: func(_ context.Context, target int64) error {
			rebounds = append(rebounds, target)
			return nil
		},
	}

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &MigratedError{Target: -1_000_000_000_789}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rebounds) != 1 || rebounds[0] != -1_000_000_000_789 {
		t.Errorf("rebinds = %v, want one rebind to the migrated target", rebounds)
	}
	if calls != 2 {
		t.Errorf("operation ran %d times, want 2", calls)
	}
}

func TestRetryer_MigrationRetriesOnlyOnce(t *testing.T) {
	r := Retryer{}
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return &MigratedError{Target: 1}
	})
	var mig *MigratedError
	if !errors.As(err, &mig) {
		t.Fatalf("err = %v, want MigratedError after the single transparent retry", err)
	}
	if calls != 2 {
		t.Errorf("operation ran %d times, want 2", calls)
	}
}

func TestRetryer_NonRetryableErrorPropagates(t *testing.T) {
	r := Retryer{}
	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("operation ran %d times, want 1", calls)
	}
}

func TestRetryer_CancelledDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retryer{
		Sleep: func(ctx context.Context, _ time.Duration) bool {
			cancel()
			return false
		},
	}
	calls := 0
	err := r.Do(ctx, func() error {
		calls++
		return &CooldownError{Wait: time.Minute}
	})
	if err == nil {
		t.Fatal("expected context error after cancellation during cooldown")
	}
	if calls != 1 {
		t.Errorf("operation ran %d times, want 1 (never re-run after cancel)", calls)
	}
}
