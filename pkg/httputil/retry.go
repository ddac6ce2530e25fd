package httputil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RetryPolicy is an explicit, bounded retry configuration attached to an
// external dependency. Retries are never implicit control flow: every remote
// call site names its policy, so the worst-case added latency is readable
// from configuration.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Minimum 1.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; each further
	// attempt doubles it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy suits short remote calls on the request path.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Do runs fn under the policy, sleeping between attempts and honoring context
// cancellation. The last error is returned when all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// Breaker is a minimal circuit breaker: after Threshold consecutive failures
// the circuit opens and calls fail fast until Cooldown has passed, at which
// point one probe call is let through.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit open")

// NewBreaker creates a breaker. threshold <= 0 defaults to 5 consecutive
// failures; cooldown <= 0 defaults to 30 seconds.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Half-open: admit one probe; Success/Failure settles the state.
		b.openedAt = b.now()
		return nil
	}
	return ErrCircuitOpen
}

// Success resets the failure streak.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records one failed call, possibly opening the circuit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = b.now()
	}
}
