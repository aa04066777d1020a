package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/dbup/internal/backoff"
)

// Policy validation errors.
var (
	ErrNegativeRetries = errors.New("max retries must be non-negative")
	ErrInvalidDelay    = errors.New("retry delay must be positive")
)

// Validate checks that the policy can drive a retry session.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if p.Delay <= 0 {
		return ErrInvalidDelay
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("%w: %q", backoff.ErrInvalidStrategy, p.Strategy)
	}
	return nil
}

// Stepper tracks a single retry session. Typical use:
//
//	s := retry.NewStepper(ctx, policy)
//	for s.ShouldAttempt() {
//		if err := work(); err != nil {
//			s.RecordFailure(err)
//			continue
//		}
//		s.RecordSuccess()
//	}
//
// A Stepper is not safe for concurrent use.
type Stepper struct {
	ctx    context.Context
	policy Policy
	opts   options

	attempt   int
	lastErr   error
	stopErr   error
	succeeded bool
}

// NewStepper starts a retry session governed by policy. ctx bounds the
// waits between attempts.
func NewStepper(ctx context.Context, policy Policy, opts ...Option) *Stepper {
	s := &Stepper{
		ctx:    ctx,
		policy: policy,
		opts:   buildOptions(opts),
	}
	if err := policy.Validate(); err != nil {
		s.stopErr = err
	}
	return s
}

// ShouldAttempt reports whether another attempt may run. For every attempt
// after the first it blocks for the backoff delay before returning. It
// returns false once the operation has succeeded, the retries are
// exhausted, or ctx is done.
func (s *Stepper) ShouldAttempt() bool {
	if s.succeeded || s.stopErr != nil {
		return false
	}
	if s.attempt > s.policy.MaxRetries {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.stopErr = err
		return false
	}

	if s.attempt > 0 {
		delay, err := s.opts.calculator.Delay(s.attempt, s.policy.Delay, s.policy.Strategy, s.policy.Jitter)
		if err != nil {
			s.stopErr = err
			return false
		}

		s.opts.logger.Warn(fmt.Sprintf("retrying in %.1fs (attempt %d/%d)", delay.Seconds(), s.attempt, s.policy.MaxRetries),
			slog.Int("retry_attempt", s.attempt),
			slog.Int("max_retries", s.policy.MaxRetries),
			slog.Float64("retry_delay", delay.Seconds()),
		)

		if err := s.opts.sleep(s.ctx, delay); err != nil {
			s.stopErr = err
			return false
		}
	}

	s.attempt++
	return true
}

// RecordSuccess ends the session successfully.
func (s *Stepper) RecordSuccess() {
	s.succeeded = true

	if retries := s.attempt - 1; retries > 0 {
		s.opts.logger.Info(fmt.Sprintf("operation succeeded after %d retries", retries),
			slog.Int("retry_attempt", retries),
		)
	}
}

// RecordFailure records the error from the current attempt.
func (s *Stepper) RecordFailure(err error) {
	s.lastErr = err

	if s.attempt > s.policy.MaxRetries {
		s.opts.logger.Error(fmt.Sprintf("operation failed after %d retries", s.policy.MaxRetries),
			slog.Int("retry_attempt", s.attempt-1),
			slog.Int("max_retries", s.policy.MaxRetries),
		)
	}
}

// Attempts returns the number of attempts started so far.
func (s *Stepper) Attempts() int {
	return s.attempt
}

// Succeeded reports whether RecordSuccess was called.
func (s *Stepper) Succeeded() bool {
	return s.succeeded
}

// Err returns the error recorded for the most recent failed attempt. When no
// attempt failed it returns the reason the session stopped early (an invalid
// policy or a done context), or nil.
func (s *Stepper) Err() error {
	if s.succeeded {
		return nil
	}
	if s.lastErr != nil {
		return s.lastErr
	}
	return s.stopErr
}
