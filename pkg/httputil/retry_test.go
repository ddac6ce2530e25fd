package httputil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyBoundedAttempts(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want exactly 3", calls)
	}
}

func TestRetryPolicyStopsRetryingOnSuccess(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DefaultRetryPolicy().Do(ctx, func() error {
		t.Fatal("fn called under cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryPolicyCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Hour}
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("broken")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the long backoff", calls)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("fresh breaker refused: %v", err)
	}
	b.Failure()
	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want circuit open", err)
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker opened below threshold: %v", err)
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want circuit open", err)
	}

	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe refused after cooldown: %v", err)
	}
	b.Success()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker still open after successful probe: %v", err)
	}
}
