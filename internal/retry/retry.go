// Package retry runs a unit of work with bounded, backed-off re-attempts.
//
// Do/DoValue surface the final error; DoWithResult never fails and instead
// reports what happened (attempts made, per-attempt errors, total elapsed).
// Backoff waits are timer-based selects on ctx.Done, so stopping the
// surrounding scheduler abandons remaining attempts promptly instead of
// finishing the full schedule.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Options is a per-invocation retry policy.
type Options struct {
	// MaxAttempts is the total number of tries, including the first (>= 1).
	MaxAttempts int

	// Delay is the wait before the second attempt.
	Delay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt
	// (>= 1; default 1, i.e. constant delay).
	BackoffMultiplier float64

	// MaxDelay caps the grown delay; 0 means uncapped.
	MaxDelay time.Duration

	// RetryIf, when set, gates re-attempts: retry only while it returns
	// true for the attempt's error. Nil retries unconditionally.
	RetryIf func(error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 1
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxDelay < 0 {
		o.MaxDelay = 0
	}
	return o
}

// Attempt records one try. Kept only for the duration of the call.
type Attempt struct {
	Index   int
	Err     error
	Elapsed time.Duration
}

// Result is the outcome of DoWithResult. Exactly one of Value/Err is
// meaningful: Err == nil means Value holds the successful result.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
	Log      []Attempt
}

// Failed reports whether all attempts were exhausted (or abandoned).
func (r Result[T]) Failed() bool { return r.Err != nil }

// Do runs op until it succeeds, attempts run out, or ctx is canceled.
// It returns the last error on exhaustion.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	res := DoWithResult(ctx, opts, op)
	return res.Value, res.Err
}

// DoWithResult runs op under the policy and always returns a Result,
// even when every attempt failed or the wait was canceled.
func DoWithResult[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) Result[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	o := opts.withDefaults()

	start := time.Now()
	var res Result[T]

	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		attemptStart := time.Now()
		v, err := op(ctx)
		res.Attempts = attempt
		res.Log = append(res.Log, Attempt{Index: attempt, Err: err, Elapsed: time.Since(attemptStart)})

		if err == nil {
			res.Value = v
			res.Err = nil
			break
		}
		res.Err = err

		// Permanent failures short-circuit and unwrap.
		var nr noRetryError
		if errors.As(err, &nr) {
			res.Err = nr.err
			break
		}
		if o.RetryIf != nil && !o.RetryIf(err) {
			break
		}
		if attempt >= o.MaxAttempts {
			break
		}

		if d := delayFor(o, attempt, err); d > 0 {
			if werr := sleep(ctx, d); werr != nil {
				// Canceled mid-backoff: abandon remaining attempts.
				res.Err = werr
				break
			}
		} else if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
	}

	res.Elapsed = time.Since(start)
	return res
}

// delayFor computes the wait after the given failed attempt (1-based):
// Delay * BackoffMultiplier^(attempt-1), capped at MaxDelay. An explicit
// RetryAfter hint on the error overrides the computed value (still capped).
func delayFor(o Options, attempt int, err error) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if o.MaxDelay > 0 && d > o.MaxDelay {
			d = o.MaxDelay
		}
		return d
	}

	if o.Delay <= 0 {
		return 0
	}
	d := time.Duration(float64(o.Delay) * math.Pow(o.BackoffMultiplier, float64(attempt-1)))
	if d < 0 {
		// Overflow from a large multiplier; clamp to the cap (or the base).
		d = o.MaxDelay
		if d <= 0 {
			d = o.Delay
		}
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
