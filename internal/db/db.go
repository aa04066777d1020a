// Package db connects the health checker to PostgreSQL through lib/pq.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/dbup/internal/health"
	"github.com/onnwee/dbup/internal/redact"
)

// DefaultConnectTimeout bounds connection establishment when Spec leaves it unset.
const DefaultConnectTimeout = 5 * time.Second

// SSLModes lists the sslmode values libpq understands.
var SSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// ValidSSLMode reports whether mode is one of SSLModes.
func ValidSSLMode(mode string) bool {
	for _, m := range SSLModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Spec describes how to reach the monitored database.
type Spec struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	SSLMode          string
	SSLVerify        bool
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	ApplicationName  string
}

// EffectiveSSLMode returns the sslmode sent to the server. With SSLVerify
// off, the certificate-verifying modes fall back to require so the
// connection stays encrypted without checking the certificate.
func (s Spec) EffectiveSSLMode() string {
	if !s.SSLVerify && (s.SSLMode == "verify-ca" || s.SSLMode == "verify-full") {
		return "require"
	}
	return s.SSLMode
}

func (s Spec) connectTimeout() time.Duration {
	if s.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return s.ConnectTimeout
}

// DSN renders the spec as a libpq key/value connection string.
func (s Spec) DSN() string {
	pairs := [][2]string{
		{"host", s.Host},
		{"port", strconv.Itoa(s.Port)},
		{"dbname", s.Database},
		{"user", s.User},
		{"password", s.Password},
		{"sslmode", s.EffectiveSSLMode()},
		{"connect_timeout", strconv.Itoa(int(math.Ceil(s.connectTimeout().Seconds())))},
	}
	if s.ApplicationName != "" {
		pairs = append(pairs, [2]string{"application_name", s.ApplicationName})
	}

	var b strings.Builder
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(quoteValue(kv[1]))
	}
	return b.String()
}

// quoteValue single-quotes a libpq value, escaping quotes and backslashes.
func quoteValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// URL renders the spec as a postgres:// URI including the password.
func (s Spec) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + s.Database,
		RawQuery: "sslmode=" + url.QueryEscape(s.EffectiveSSLMode()),
	}
	return u.String()
}

// Redacted returns URL with the password masked.
func (s Spec) Redacted() string {
	return redact.RedactConnectionURI(s.URL())
}

// LogValue keeps the password out of log output.
func (s Spec) LogValue() slog.Value {
	password := ""
	if s.Password != "" {
		password = redact.Mask
	}
	return slog.GroupValue(
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("database", s.Database),
		slog.String("user", s.User),
		slog.String("password", password),
		slog.String("sslmode", s.EffectiveSSLMode()),
		slog.Duration("connect_timeout", s.connectTimeout()),
		slog.Duration("statement_timeout", s.StatementTimeout),
		slog.String("application_name", s.ApplicationName),
	)
}

// Opener opens a *sql.DB for a DSN. Tests substitute go-sqlmock.
type Opener func(dsn string) (*sql.DB, error)

// OpenPQ opens dsn through a lib/pq connector.
func OpenPQ(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// Option customizes a Connector.
type Option func(*Connector)

// WithOpener replaces OpenPQ.
func WithOpener(open Opener) Option {
	return func(c *Connector) { c.open = open }
}

// Connector opens one dedicated connection per health check.
type Connector struct {
	spec Spec
	open Opener
}

var _ health.Connector = (*Connector)(nil)

// NewConnector creates a Connector for spec.
func NewConnector(spec Spec, opts ...Option) *Connector {
	c := &Connector{spec: spec, open: OpenPQ}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Spec returns the connection settings.
func (c *Connector) Spec() Spec {
	return c.spec
}

// Connect establishes a connection within the spec's connect timeout.
// Errors are tagged as transport or server faults.
func (c *Connector) Connect(ctx context.Context) (health.Conn, error) {
	pool, err := c.open(c.spec.DSN())
	if err != nil {
		return nil, connectFault(fmt.Errorf("open database: %w", err))
	}
	pool.SetMaxOpenConns(1)

	connectCtx, cancel := context.WithTimeout(ctx, c.spec.connectTimeout())
	defer cancel()

	conn, err := pool.Conn(connectCtx)
	if err != nil {
		_ = pool.Close()
		return nil, connectFault(err)
	}
	return &session{pool: pool, conn: conn}, nil
}

// session is a single checked-out connection plus the pool that owns it.
type session struct {
	pool *sql.DB
	conn *sql.Conn
}

func (s *session) Exec(ctx context.Context, query string) error {
	_, err := s.conn.ExecContext(ctx, query)
	return fault(err)
}

func (s *session) Query(ctx context.Context, query string) (health.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fault(err)
	}
	return &resultRows{Rows: rows}, nil
}

// Close returns the connection and closes the pool so no socket outlives
// the check.
func (s *session) Close() error {
	err := s.conn.Close()
	if poolErr := s.pool.Close(); err == nil {
		err = poolErr
	}
	return err
}

// resultRows tags errors surfaced while iterating.
type resultRows struct {
	*sql.Rows
}

func (r *resultRows) Err() error {
	return fault(r.Rows.Err())
}
