package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"freespace-backend/internal/llm"
)

func TestRetryPolicyBackoffSequence(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{
		MaxAttempts: 4,
		Backoff:     []time.Duration{10 * time.Millisecond, 50 * time.Millisecond},
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("nope")
	})
	assert.EqualError(t, err, "nope")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, waits)
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Sleep = noSleep
	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyCustomRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := RetryPolicy{MaxAttempts: 5, Retryable: func(err error) bool { return !errors.Is(err, fatal) }, Sleep: noSleep}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyDefaultSkipsUnavailable(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Sleep = noSleep
	calls := 0
	_ = p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return llm.ErrUnavailable
	})
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Hour}}
	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("first")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyJoinsSleepError(t *testing.T) {
	interrupted := errors.New("interrupted")
	p := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second},
		Sleep:       func(context.Context, time.Duration) error { return interrupted },
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("first")
	})
	assert.ErrorIs(t, err, interrupted)
	assert.ErrorContains(t, err, "first")
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyConstantBackoff(t *testing.T) {
	var waits []time.Duration
	p := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{5 * time.Millisecond},
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("again")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, waits)
}

func TestRetryPolicyDefaultTimer(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("x")
	})
	assert.EqualError(t, err, "x")
	assert.Equal(t, 3, calls)
}
