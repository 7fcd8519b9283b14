package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Min: time.Millisecond, Max: 5 * time.Millisecond}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	errBoom := errors.New("boom")
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), zap.NewNop(), func(int) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentNotRetried(t *testing.T) {
	errFatal := errors.New("fatal")
	attempts, err := Do(context.Background(), fastPolicy(), nil, func(int) error {
		return Permanent(errFatal)
	})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Min: time.Hour, Max: time.Hour}
	attempts, err := Do(ctx, p, nil, func(int) error {
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRandomExponentialBounds(t *testing.T) {
	b := &RandomExponential{Min: time.Second, Max: 60 * time.Second, rand: func() float64 { return 1 }}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.NextBackOff(), "attempt %d", i+1)
	}

	b.Reset()
	b.rand = func() float64 { return 0 }
	for range 10 {
		assert.Equal(t, time.Second, b.NextBackOff())
	}
}

func TestRandomExponentialDefaultSource(t *testing.T) {
	b := NewRandomExponential(time.Second, time.Minute)
	for range 20 {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	}
}

func TestRandomExponentialZeroMinStillDoubles(t *testing.T) {
	b := &RandomExponential{Min: 0, Max: time.Minute, rand: func() float64 { return 1 }}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestRandomExponentialLiteralWithoutSource(t *testing.T) {
	b := &RandomExponential{Min: time.Second, Max: time.Minute}
	assert.NotPanics(t, func() {
		for range 5 {
			d := b.NextBackOff()
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, time.Minute)
		}
	})
}
