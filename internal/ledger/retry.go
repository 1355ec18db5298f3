package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"branchstock/backend/internal/store"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Millisecond
)

// RetryPolicy bounds how often a unit that lost a version race is replayed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called before every replay. Optional.
	OnRetry func(op string)
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Do runs fn until it succeeds, fails with anything other than
// store.ErrVersionConflict, or runs out of attempts. Exhaustion is reported
// as *store.ConcurrencyConflictError.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	backoff := retry.NewExponential(p.BaseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempts > 0 && p.OnRetry != nil {
			p.OnRetry(op)
		}
		attempts++
		err := fn(ctx)
		if errors.Is(err, store.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return &store.ConcurrencyConflictError{Operation: op, Attempts: attempts}
	}
	return err
}
