package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"freespace-backend/internal/llm"
)

// RetryPolicy bounds how often a failed generation is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below one mean one.
	MaxAttempts int
	// Backoff[i] is waited before attempt i+2. The last entry repeats.
	Backoff []time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything except cancellation and ErrUnavailable.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes two attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     []time.Duration{time.Second},
	}
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, llm.ErrUnavailable)
}

// schedule walks a fixed list of waits, repeating the last one.
type schedule struct {
	waits []time.Duration
	next  int
}

func (s *schedule) NextBackOff() time.Duration {
	if len(s.waits) == 0 {
		return 0
	}
	d := s.waits[min(s.next, len(s.waits)-1)]
	s.next++
	return d
}

func (s *schedule) Reset() { s.next = 0 }

func (p RetryPolicy) backOff(ctx context.Context, attempts int) backoff.BackOff {
	var b backoff.BackOff = &schedule{waits: p.Backoff}
	if len(p.Backoff) == 1 {
		b = backoff.NewConstantBackOff(p.Backoff[0])
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// sleepTimer adapts RetryPolicy.Sleep to backoff.Timer. A failed sleep
// cancels the retry context with the sleep error as its cause.
type sleepTimer struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sleep  func(ctx context.Context, d time.Duration) error
	c      chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.cancel(err)
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

// Do calls fn until it succeeds, the attempts run out, the error is not
// retryable or ctx is done. It returns the last error, joined with the
// cancellation cause when ctx ended the run.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, cancel: cancel, sleep: p.Sleep, c: make(chan time.Time, 1)}
	}

	var last error
	attempt := 0
	op := func() error {
		attempt++
		last = fn(ctx, attempt)
		if last != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}

	err := backoff.RetryNotifyWithTimer(op, p.backOff(ctx, attempts), nil, timer)
	if err != nil && ctx.Err() != nil && last != nil && !errors.Is(last, err) {
		return errors.Join(last, context.Cause(ctx))
	}
	return err
}
