// Package retry runs fallible operations repeatedly with backoff between
// attempts. Stepper exposes the attempt loop one step at a time for callers
// that interleave their own work between attempts; Do runs an operation to
// completion. Both compute delays through the same backoff.Calculator.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/dbup/internal/backoff"
)

// Policy configures a retry session.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total attempts are MaxRetries+1.
	MaxRetries int

	// Strategy selects how the delay grows between retries.
	Strategy backoff.Strategy

	// Delay is the base delay passed to the backoff calculator.
	Delay time.Duration

	// Jitter enables ±20% randomization of each delay.
	Jitter bool
}

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Stepper or a Do call.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	clock      clockwork.Clock
	sleep      SleepFunc
	calculator *backoff.Calculator
}

// WithLogger sets the logger that receives retry notifications.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock sets the clock used for the default sleep.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSleep replaces the sleep between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithCalculator sets the backoff calculator, typically one with a seeded
// jitter source.
func WithCalculator(calc *backoff.Calculator) Option {
	return func(o *options) { o.calculator = calc }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.sleep == nil {
		o.sleep = clockSleep(o.clock)
	}
	if o.calculator == nil {
		o.calculator = backoff.NewCalculator(nil)
	}
	return o
}

// clockSleep returns a SleepFunc backed by clock timers.
func clockSleep(clock clockwork.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		timer := clock.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return nil
		}
	}
}

// Do calls op until it succeeds or the policy's retries are exhausted.
// On exhaustion it returns the error from the last attempt unchanged. If ctx
// is cancelled while waiting between attempts, Do returns the last attempt's
// error; if no attempt ran at all it returns ctx.Err().
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T

	s := NewStepper(ctx, policy, opts...)
	for s.ShouldAttempt() {
		result, err := op(ctx)
		if err == nil {
			s.RecordSuccess()
			return result, nil
		}
		s.RecordFailure(err)
	}

	if err := s.Err(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("retry: stopped after %d attempts without a result", s.Attempts())
}
