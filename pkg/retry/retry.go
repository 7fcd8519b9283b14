// Package retry runs an operation with randomized exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds the attempts and waits of Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Min is the shortest wait and the starting upper bound.
	Min time.Duration
	// Max caps the upper bound of a wait.
	Max time.Duration
}

// DefaultPolicy is three attempts with waits drawn from [1s, 1s], [1s, 2s], ...
// capped at 60s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Min: time.Second, Max: time.Minute}
}

// RandomExponential is a backoff.BackOff whose n-th wait is drawn uniformly
// from [Min, min(Min*2^(n-1), Max)].
type RandomExponential struct {
	Min, Max time.Duration

	attempt int
	rand    func() float64
}

// NewRandomExponential returns a RandomExponential using the global source.
func NewRandomExponential(minWait, maxWait time.Duration) *RandomExponential {
	return &RandomExponential{Min: minWait, Max: maxWait, rand: rand.Float64}
}

// baseUnit starts the doubling when Min is not positive.
const baseUnit = time.Second

// NextBackOff implements backoff.BackOff.
func (b *RandomExponential) NextBackOff() time.Duration {
	b.attempt++
	base := b.Min
	if base <= 0 {
		base = baseUnit
	}
	upper := b.Max
	if shift := b.attempt - 1; shift < 62 {
		if u := base << shift; u > 0 && u < b.Max {
			upper = u
		}
	}
	if upper <= b.Min {
		return b.Min
	}
	random := b.rand
	if random == nil {
		random = rand.Float64
	}
	return b.Min + time.Duration(random()*float64(upper-b.Min))
}

// Reset implements backoff.BackOff.
func (b *RandomExponential) Reset() { b.attempt = 0 }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a Permanent error, the policy runs
// out of attempts or ctx is done. It returns the number of attempts made and
// the last error. Waits block only the calling goroutine.
func Do(ctx context.Context, p Policy, logger *zap.Logger, op func(attempt int) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var b backoff.BackOff = NewRandomExponential(p.Min, p.Max)
	b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op(attempts)
	}, b, func(err error, wait time.Duration) {
		logger.Warn("retrying after error",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	return attempts, err
}
