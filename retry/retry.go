package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Limit bounds how many retries follow the initial failure. A Limit of N
// permits N retries (N+1 total attempts). Unlimited retries forever.
type Limit int

// Unlimited retries indefinitely.
const Unlimited Limit = -1

// Allows reports whether another attempt may follow, given the failure count
// including the failure just recorded.
func (l Limit) Allows(failures int) bool {
	if l < 0 {
		return true
	}
	return failures <= int(l)
}

// DelayFunc computes the delay before the i-th retry, where failures counts
// every failure so far (1 for the first retry).
type DelayFunc func(failures int) time.Duration

// Delay bounds for DefaultDelay.
const (
	baseDelay = time.Second
	maxDelay  = 30 * time.Second
)

// DefaultDelay is exponential backoff: one second before the first retry,
// doubled per failure, capped at thirty seconds.
func DefaultDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 6 {
		return maxDelay
	}
	d := baseDelay << uint(failures-1)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// FixedDelay returns a DelayFunc that always waits d.
func FixedDelay(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// FromBackOff adapts a backoff.BackOff policy into a DelayFunc. The policy is
// stateful; callers should supply a fresh policy per query. A policy that
// stops maps to a zero delay.
func FromBackOff(b backoff.BackOff) DelayFunc {
	return func(int) time.Duration {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return 0
		}
		return d
	}
}

// Visibility reports whether the consuming environment is foreground-visible.
// Resumed returns a channel closed the next time visibility is regained.
type Visibility interface {
	Visible() bool
	Resumed() <-chan struct{}
}

// FetchFunc is the opaque asynchronous operation supplied by the caller.
type FetchFunc func(ctx context.Context) (any, error)

// Runner executes a fetch function with retries.
//
// Contract:
// - Concurrency: a Runner value is used by one attempt at a time.
// - Cancellation: Canceled is consulted at every suspension boundary; a set
//   marker yields ErrCanceled, never the underlying fetch error.
// - Errors: exhausting retries returns the final fetch error unchanged.
type Runner struct {
	// Limit bounds retries. Zero means no retries.
	Limit Limit

	// Delay schedules each retry. Nil means DefaultDelay.
	Delay DelayFunc

	// Visibility gates retries while backgrounded. Nil means always visible.
	Visibility Visibility

	// Canceled is the attempt's cancellation marker. Nil means never canceled.
	Canceled func() bool

	// OnFailure is invoked with the running failure count after each failed
	// fetch, before any retry is scheduled.
	OnFailure func(failures int)
}

// Run executes fn until it succeeds, retries are exhausted, the attempt is
// canceled, or ctx is done.
func (r *Runner) Run(ctx context.Context, fn FetchFunc) (any, error) {
	if fn == nil {
		return nil, ErrNilFetch
	}

	delay := r.Delay
	if delay == nil {
		delay = DefaultDelay
	}

	failures := 0
	for {
		if r.canceled() {
			return nil, ErrCanceled
		}

		val, err := fn(ctx)

		if r.canceled() {
			return nil, ErrCanceled
		}
		if err == nil {
			return val, nil
		}

		failures++
		if r.OnFailure != nil {
			r.OnFailure(failures)
		}
		if !r.Limit.Allows(failures) {
			return nil, err
		}

		// Retries are withheld while backgrounded; park until visibility
		// resumes rather than burning attempts nobody can observe. The
		// resume channel is captured before reading visibility: the
		// source publishes both under one lock, so a channel held while
		// hidden is closed on resume even when the transition lands
		// between the two reads.
		if r.Visibility != nil {
			for {
				resumed := r.Visibility.Resumed()
				if r.Visibility.Visible() {
					break
				}
				select {
				case <-resumed:
				case <-ctx.Done():
					return nil, r.interrupted(ctx)
				}
			}
		}

		if r.canceled() {
			return nil, ErrCanceled
		}

		select {
		case <-time.After(delay(failures)):
		case <-ctx.Done():
			return nil, r.interrupted(ctx)
		}
	}
}

func (r *Runner) canceled() bool {
	return r.Canceled != nil && r.Canceled()
}

// interrupted distinguishes a context canceled by the attempt's own
// cancellation marker from an external deadline.
func (r *Runner) interrupted(ctx context.Context) error {
	if r.canceled() {
		return ErrCanceled
	}
	return ctx.Err()
}
