// Package health performs single database health checks and reports their
// outcome as a sanitized Result.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/dbup/internal/dberr"
	"github.com/onnwee/dbup/internal/redact"
)

const (
	// DefaultQuery is the health check query used when none is configured.
	DefaultQuery = "SELECT 1 AS health_check"
	// DefaultExpectedValue is the sentinel DefaultQuery returns.
	DefaultExpectedValue = "1"
	// DefaultStatementTimeout bounds the health query on the server.
	DefaultStatementTimeout = 5 * time.Second

	readOnlyStatement = "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"

	unexpectedResultMessage = "unexpected health check result"
	genericFailureMessage   = "An unexpected error occurred during health check"
)

// ErrUnexpectedResult is returned when the health query produced no row or a
// value other than the expected sentinel.
var ErrUnexpectedResult = errors.New(unexpectedResultMessage)

// Connector opens a dedicated connection for one check. Implementations
// bound the attempt by their connect timeout and tag errors with
// dberr.Transport or dberr.Server.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a single database session.
type Conn interface {
	Exec(ctx context.Context, query string) error
	Query(ctx context.Context, query string) (Rows, error)
	Close() error
}

// Rows is the cursor over a query result. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Config holds the query-side settings of a Checker.
type Config struct {
	// Query is run verbatim; it must already be validated as a single SELECT.
	Query string
	// ExpectedValue is compared with the first column of the first row,
	// after formatting that column as text.
	ExpectedValue string
	// StatementTimeout is applied to the session before the query runs.
	StatementTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Query == "" {
		c.Query = DefaultQuery
	}
	if c.ExpectedValue == "" {
		c.ExpectedValue = DefaultExpectedValue
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
	return c
}

// Option customizes a Checker.
type Option func(*Checker)

// WithClock sets the clock used to time checks and stamp results.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// WithRedactHostnames masks host names and IP literals in error messages.
func WithRedactHostnames(enabled bool) Option {
	return func(c *Checker) { c.redactHostnames = enabled }
}

// Checker runs health checks against one database. It holds no connection
// between checks. Check is safe to call from one goroutine at a time.
type Checker struct {
	connector       Connector
	cfg             Config
	clock           clockwork.Clock
	redactHostnames bool
}

// NewChecker creates a Checker that opens connections through connector.
func NewChecker(connector Connector, cfg Config, opts ...Option) *Checker {
	c := &Checker{
		connector: connector,
		cfg:       cfg.withDefaults(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective settings, defaults included.
func (c *Checker) Config() Config {
	return c.cfg
}

// Check connects, locks the session to read-only with a statement timeout,
// runs the health query and verifies its sentinel. It never returns an
// error: every failure becomes a Result with a code and sanitized message.
// Any cursor and connection acquired are closed before Check returns.
func (c *Checker) Check(ctx context.Context) Result {
	start := c.clock.Now()

	conn, rows, err := c.probe(ctx)

	end := c.clock.Now()
	elapsed := end.Sub(start)

	closeQuietly(rows, conn)

	if err == nil {
		return newSuccess(end, elapsed)
	}
	code, message := c.describe(err)
	return newFailure(end, elapsed, code, message)
}

// probe runs the check steps and returns whatever resources it acquired,
// even on failure, so the caller can release them.
func (c *Checker) probe(ctx context.Context) (conn Conn, rows Rows, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health check panicked: %v", r)
		}
	}()

	conn, err = c.connector.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err = conn.Exec(ctx, readOnlyStatement); err != nil {
		return conn, nil, err
	}
	if err = conn.Exec(ctx, statementTimeoutStatement(c.cfg.StatementTimeout)); err != nil {
		return conn, nil, err
	}

	rows, err = conn.Query(ctx, c.cfg.Query)
	if err != nil {
		return conn, nil, err
	}

	return conn, rows, c.verify(rows)
}

func statementTimeoutStatement(d time.Duration) string {
	return fmt.Sprintf("SET statement_timeout = %d", d.Milliseconds())
}

// verify reads the first row and compares its first column with the
// expected sentinel.
func (c *Checker) verify(rows Rows) error {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrUnexpectedResult
	}

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return ErrUnexpectedResult
	}

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}

	if formatValue(values[0]) != c.cfg.ExpectedValue {
		return ErrUnexpectedResult
	}
	return nil
}

// formatValue renders a scanned column as text. Drivers report integers as
// int64 and text as []byte or string.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// describe maps a check failure to its error code and user-visible message.
func (c *Checker) describe(err error) (dberr.Code, string) {
	if errors.Is(err, ErrUnexpectedResult) {
		return dberr.CodeUnknown, unexpectedResultMessage
	}

	switch dberr.CategoryOf(err) {
	case dberr.CategoryTransport:
		return dberr.CodeConnection, redact.Sanitize(err.Error(), c.redactHostnames)
	case dberr.CategoryServer:
		return dberr.Classify(err.Error()), redact.Sanitize(err.Error(), c.redactHostnames)
	default:
		return dberr.CodeUnknown, genericFailureMessage
	}
}

// closeQuietly releases the cursor and then the connection. Errors and
// panics raised while closing are discarded.
func closeQuietly(rows Rows, conn Conn) {
	if rows != nil {
		func() {
			defer func() { _ = recover() }()
			_ = rows.Close()
		}()
	}
	if conn != nil {
		func() {
			defer func() { _ = recover() }()
			_ = conn.Close()
		}()
	}
}
