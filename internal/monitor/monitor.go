// Package monitor drives periodic health checks and fans each result out to
// the logger, metrics and the shared status record.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/dbup/internal/health"
	"github.com/onnwee/dbup/internal/retry"
	"github.com/onnwee/dbup/internal/tracing"
)

// Prober runs one health check.
type Prober interface {
	Check(ctx context.Context) health.Result
}

// Recorder receives every check result. metrics.Metrics implements it.
type Recorder interface {
	Record(r health.Result)
}

// Publisher shares every check result. status.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, r health.Result) error
}

// Target describes the monitored database in log output. Host should
// already be masked when hostnames are redacted.
type Target struct {
	Database string
	Host     string
	Port     int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock sets the clock used for the interval and retry waits.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithRecorder adds a metrics sink.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithPublisher adds a status sink.
func WithPublisher(p Publisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// WithInstanceID tags logs and spans with the running instance.
func WithInstanceID(id string) Option {
	return func(m *Monitor) { m.instanceID = id }
}

// WithTarget sets the database description used in logs and spans.
func WithTarget(t Target) Option {
	return func(m *Monitor) { m.target = t }
}

// WithRetryOptions passes extra options to each cycle's retry session.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(m *Monitor) { m.retryOpts = append(m.retryOpts, opts...) }
}

// Monitor runs checks one at a time; cycles never overlap.
type Monitor struct {
	prober   Prober
	policy   retry.Policy
	interval time.Duration

	logger     *slog.Logger
	clock      clockwork.Clock
	recorder   Recorder
	publisher  Publisher
	instanceID string
	target     Target
	retryOpts  []retry.Option
}

// New creates a Monitor that checks through prober every interval, retrying
// failed checks within a cycle according to policy.
func New(prober Prober, policy retry.Policy, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		policy:   policy,
		interval: interval,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.instanceID != "" {
		m.logger = m.logger.With(slog.String("instance_id", m.instanceID))
	}
	return m
}

// Run checks the database every interval until ctx is cancelled and
// returns the number of cycles that ran at least one check.
func (m *Monitor) Run(ctx context.Context) int {
	m.logger.Info(fmt.Sprintf("starting db-up monitor - database: %s@%s:%d, check interval: %s",
		m.target.Database, m.target.Host, m.target.Port, m.interval),
		slog.String("database", m.target.Database),
		slog.String("host", m.target.Host),
		slog.Int("port", m.target.Port),
		slog.Duration("check_interval", m.interval),
		slog.Int("max_retries", m.policy.MaxRetries),
	)

	count := 0
loop:
	for ctx.Err() == nil {
		if _, attempts := m.cycle(ctx, count+1); attempts > 0 {
			count++
		}

		select {
		case <-ctx.Done():
			break loop
		case <-m.clock.After(m.interval):
		}
	}

	m.logger.Info(fmt.Sprintf("shutting down after %d health checks", count),
		slog.Int("check_count", count),
	)
	return count
}

// RunOnce performs a single cycle, retries included, and returns its final
// result.
func (m *Monitor) RunOnce(ctx context.Context) health.Result {
	m.logger.Info("running single health check",
		slog.String("database", m.target.Database),
		slog.String("host", m.target.Host),
	)
	result, _ := m.cycle(ctx, 1)
	return result
}

// cycle runs one retry session of checks and returns the last result along
// with the number of checks made. Cancellation is observed only between
// checks; a check in flight runs to completion, bounded by the connect and
// statement timeouts.
func (m *Monitor) cycle(ctx context.Context, checkNumber int) (health.Result, int) {
	ctx, endSpan := tracing.StartCheckSpan(ctx, m.target.Database, checkNumber)
	if m.instanceID != "" {
		tracing.SetAttributes(ctx, tracing.AttrInstanceID.String(m.instanceID))
	}

	logger := m.logger.With(slog.Int("check_number", checkNumber))
	opts := append([]retry.Option{retry.WithLogger(logger), retry.WithClock(m.clock)}, m.retryOpts...)
	stepper := retry.NewStepper(ctx, m.policy, opts...)

	var result health.Result
	for stepper.ShouldAttempt() {
		attempt := stepper.Attempts()
		attemptCtx, endAttempt := tracing.StartAttemptSpan(ctx, attempt)
		result = m.prober.Check(context.WithoutCancel(attemptCtx))
		endAttempt(result)

		m.report(logger, result, attempt)
		m.emit(ctx, logger, result)

		if result.IsSuccess() {
			stepper.RecordSuccess()
			continue
		}
		stepper.RecordFailure(result.Err())
	}

	if stepper.Attempts() == 0 {
		result = health.Interrupted(m.clock.Now())
		logger.Info("health check skipped", slog.String("reason", health.MessageInterrupted))
	}

	endSpan(stepper.Attempts(), result)
	return result, stepper.Attempts()
}

func (m *Monitor) report(logger *slog.Logger, r health.Result, attempt int) {
	attrs := []any{
		slog.Float64("response_time_ms", r.ResponseTimeMS),
		slog.String("status", string(r.Status)),
		slog.Int("retry_attempt", attempt-1),
	}
	if r.IsSuccess() {
		logger.Info(r.String(), attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("error_code", string(r.ErrorCode)),
		slog.String("error_message", r.ErrorMessage),
	)
	logger.Warn(r.String(), attrs...)
}

// emit hands r to the sinks. Sink errors and panics are logged and never
// affect the cycle.
func (m *Monitor) emit(ctx context.Context, logger *slog.Logger, r health.Result) {
	if m.recorder != nil {
		m.guard(ctx, logger, "metrics", func() error {
			m.recorder.Record(r)
			return nil
		})
	}
	if m.publisher != nil {
		// The publisher bounds its own writes; cancellation must not drop the last one.
		pubCtx := context.WithoutCancel(ctx)
		m.guard(ctx, logger, "status", func() error {
			return m.publisher.Publish(pubCtx, r)
		})
	}
}

func (m *Monitor) guard(ctx context.Context, logger *slog.Logger, sink string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	logger.Error("failed to record health check result",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
	tracing.AddEvent(ctx, "sink_failed",
		attribute.String("sink", sink),
		attribute.String("error", err.Error()),
	)
}
