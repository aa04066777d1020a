// Package status shares the latest check result through Redis so other
// processes can read the database state without probing it themselves.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/dbup/internal/health"
)

// DefaultWriteTimeout bounds each Redis write.
const DefaultWriteTimeout = 2 * time.Second

var (
	// ErrNoStatus is returned by Latest when no record exists or it expired.
	ErrNoStatus = errors.New("no status record")
	// ErrInvalidTTL is returned when a publisher is configured without a positive TTL.
	ErrInvalidTTL = errors.New("status ttl must be positive")
)

// Record is the JSON document stored under the status key.
type Record struct {
	InstanceID string `json:"instance_id"`
	Database   string `json:"database"`
	Host       string `json:"host"`
	health.Result
}

// Options configures a Publisher.
type Options struct {
	KeyPrefix  string
	Database   string
	Host       string
	InstanceID string
	TTL        time.Duration
	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Publisher writes each result to a single key with an expiry, so a stopped
// monitor leaves no stale "up" record behind.
type Publisher struct {
	client *redis.Client
	opts   Options
	key    string
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// NewPublisher creates a publisher writing to "<prefix>:<database>".
func NewPublisher(client *redis.Client, opts Options) (*Publisher, error) {
	if opts.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Publisher{
		client: client,
		opts:   opts,
		key:    opts.KeyPrefix + ":" + opts.Database,
	}, nil
}

// Key returns the Redis key records are written to.
func (p *Publisher) Key() string {
	return p.key
}

// Publish stores r as the latest status.
func (p *Publisher) Publish(ctx context.Context, r health.Result) error {
	data, err := json.Marshal(Record{
		InstanceID: p.opts.InstanceID,
		Database:   p.opts.Database,
		Host:       p.opts.Host,
		Result:     r,
	})
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
	defer cancel()

	if err := p.client.Set(ctx, p.key, data, p.opts.TTL).Err(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Latest reads the current record.
func (p *Publisher) Latest(ctx context.Context) (Record, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoStatus
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read status: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return rec, nil
}

// Ping checks that Redis is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
