// Package backoff computes retry delays for the fixed, linear and
// exponential strategies, with optional ±20% jitter.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Strategy selects how the delay grows with the attempt number.
type Strategy string

// Supported strategies.
const (
	Fixed       Strategy = "fixed"
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
)

const (
	// JitterFraction is the maximum relative perturbation applied by jitter.
	JitterFraction = 0.2

	// MinJitteredDelay is the floor for jittered delays so that a retry loop
	// always makes forward progress.
	MinJitteredDelay = 100 * time.Millisecond
)

// Errors returned by the calculator.
var (
	ErrInvalidStrategy = errors.New("invalid backoff strategy")
	ErrInvalidAttempt  = errors.New("attempt must be at least 1")
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Fixed, Linear, Exponential:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q (valid options: fixed, linear, exponential)", ErrInvalidStrategy, s)
	}
}

// Valid reports whether s is one of the supported strategies.
func (s Strategy) Valid() bool {
	return s == Fixed || s == Linear || s == Exponential
}

// Source supplies uniformly distributed values in [0, 1). *rand.Rand
// satisfies it, so tests can pass a seeded generator.
type Source interface {
	Float64() float64
}

// Calculator computes delays using its own jitter source.
// It is safe for concurrent use.
type Calculator struct {
	mu  sync.Mutex
	src Source // protected by mu
}

// NewCalculator returns a Calculator drawing jitter from src. A nil src uses
// a generator seeded from the current time.
func NewCalculator(src Source) *Calculator {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Calculator{src: src}
}

var defaultCalculator = NewCalculator(nil)

// ComputeDelay is Delay on a process-wide calculator with a time-seeded
// jitter source.
func ComputeDelay(attempt int, base time.Duration, strategy Strategy, jitter bool) (time.Duration, error) {
	return defaultCalculator.Delay(attempt, base, strategy, jitter)
}

// Delay returns the wait before retry number attempt (1-based):
//
//	fixed:       base
//	linear:      base * attempt
//	exponential: base * 2^(attempt-1)
//
// With jitter the result is perturbed uniformly by up to ±20% and then
// clamped to at least MinJitteredDelay. Delays beyond the range of
// time.Duration saturate at its maximum.
func (c *Calculator) Delay(attempt int, base time.Duration, strategy Strategy, jitter bool) (time.Duration, error) {
	if attempt < 1 {
		return 0, ErrInvalidAttempt
	}

	var delay float64
	switch strategy {
	case Fixed:
		delay = float64(base)
	case Linear:
		delay = float64(base) * float64(attempt)
	case Exponential:
		delay = float64(base) * math.Pow(2, float64(attempt-1))
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	if jitter {
		c.mu.Lock()
		u := c.src.Float64()
		c.mu.Unlock()

		// u in [0,1) maps to a perturbation in [-20%, +20%).
		delay += delay * JitterFraction * (2*u - 1)
		if delay < float64(MinJitteredDelay) {
			delay = float64(MinJitteredDelay)
		}
	}

	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(delay), nil
}
