package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/dbup/internal/dberr"
	"github.com/onnwee/dbup/internal/health"
)

func setupPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p, err := NewPublisher(client, Options{
		KeyPrefix:  "dbup:status",
		Database:   "app",
		Host:       "***",
		InstanceID: "3f0b7f0e-0000-4000-8000-000000000001",
		TTL:        3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p, mr
}

func failedResult() health.Result {
	return health.Result{
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:         health.StatusFailure,
		ResponseTimeMS: 5001.5,
		ErrorCode:      dberr.CodeConnection,
		ErrorMessage:   "connection refused",
	}
}

func TestNewPublisher_InvalidTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	if _, err := NewPublisher(client, Options{Database: "app"}); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("NewPublisher() error = %v, want ErrInvalidTTL", err)
	}
}

func TestPublisher_Key(t *testing.T) {
	p, _ := setupPublisher(t)
	if got := p.Key(); got != "dbup:status:app" {
		t.Errorf("Key() = %q, want dbup:status:app", got)
	}
}

func TestPublisher_PublishWritesJSONWithTTL(t *testing.T) {
	p, mr := setupPublisher(t)
	ctx := context.Background()

	if err := p.Publish(ctx, failedResult()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, err := mr.Get("dbup:status:app")
	if err != nil {
		t.Fatalf("key not written: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	want := map[string]any{
		"instance_id":      "3f0b7f0e-0000-4000-8000-000000000001",
		"database":         "app",
		"host":             "***",
		"status":           "failure",
		"error_code":       "CONNECTION_ERROR",
		"error_message":    "connection refused",
		"response_time_ms": 5001.5,
		"timestamp":        "2026-03-01T12:00:00Z",
	}
	for k, v := range want {
		if doc[k] != v {
			t.Errorf("%s = %v, want %v", k, doc[k], v)
		}
	}

	if ttl := mr.TTL("dbup:status:app"); ttl != 3*time.Minute {
		t.Errorf("TTL = %v, want 3m", ttl)
	}
}

func TestPublisher_Latest(t *testing.T) {
	p, _ := setupPublisher(t)
	ctx := context.Background()

	if _, err := p.Latest(ctx); !errors.Is(err, ErrNoStatus) {
		t.Fatalf("Latest() before publish error = %v, want ErrNoStatus", err)
	}

	ok := health.Result{
		Timestamp:      time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
		Status:         health.StatusSuccess,
		ResponseTimeMS: 3,
	}
	if err := p.Publish(ctx, failedResult()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(ctx, ok); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec, err := p.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !rec.IsSuccess() || rec.ErrorCode != "" || !rec.Timestamp.Equal(ok.Timestamp) {
		t.Errorf("Latest() = %+v, want the last published success", rec)
	}
	if rec.InstanceID != "3f0b7f0e-0000-4000-8000-000000000001" {
		t.Errorf("InstanceID = %q", rec.InstanceID)
	}
}

func TestPublisher_RecordExpires(t *testing.T) {
	p, mr := setupPublisher(t)
	ctx := context.Background()

	if err := p.Publish(ctx, failedResult()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mr.FastForward(3*time.Minute + time.Second)

	if _, err := p.Latest(ctx); !errors.Is(err, ErrNoStatus) {
		t.Errorf("Latest() after expiry error = %v, want ErrNoStatus", err)
	}
}

func TestPublisher_Latest_Corrupt(t *testing.T) {
	p, mr := setupPublisher(t)
	if err := mr.Set("dbup:status:app", "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := p.Latest(context.Background()); err == nil || errors.Is(err, ErrNoStatus) {
		t.Errorf("Latest() error = %v, want decode error", err)
	}
}

func TestPublisher_Ping(t *testing.T) {
	p, mr := setupPublisher(t)

	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	mr.Close()
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Ping() expected error after server closed")
	}
}

func TestPublisher_PublishFailsWhenUnavailable(t *testing.T) {
	p, mr := setupPublisher(t)
	mr.Close()

	if err := p.Publish(context.Background(), failedResult()); err == nil {
		t.Error("Publish() expected error when Redis is down")
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("redis://:secret@localhost:6379/2")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	if got := client.Options().DB; got != 2 {
		t.Errorf("DB = %d, want 2", got)
	}

	if _, err := NewClient("http://localhost"); err == nil {
		t.Error("NewClient() expected error for non-redis scheme")
	}
}
