package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/dbup/internal/dberr"
	"github.com/onnwee/dbup/internal/health"
)

func success(ms float64) health.Result {
	return health.Result{
		Timestamp:      time.Now().UTC(),
		Status:         health.StatusSuccess,
		ResponseTimeMS: ms,
	}
}

func failure(code dberr.Code) health.Result {
	return health.Result{
		Timestamp:      time.Now().UTC(),
		Status:         health.StatusFailure,
		ResponseTimeMS: 5000,
		ErrorCode:      code,
		ErrorMessage:   "boom",
	}
}

func metricValue(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return &out
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v) error = %v", labels, err)
	}
	return metricValue(t, c).GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("app", "db.internal")
	if got := len(m.Collectors()); got != 4 {
		t.Errorf("expected 4 collectors, got %d", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	t.Run("families gathered", func(t *testing.T) {
		m := NewMetrics("app", "db.internal")
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		m.Record(success(12))
		m.Record(failure(dberr.CodeConnection))

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() error = %v", err)
		}

		expected := map[string]bool{
			MetricConnectionStatus: false,
			MetricCheckDuration:    false,
			MetricChecksTotal:      false,
			MetricErrorsTotal:      false,
		}
		for _, family := range families {
			if _, ok := expected[family.GetName()]; ok {
				expected[family.GetName()] = true
			}
		}
		for name, found := range expected {
			if !found {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics("a", "h").Register(reg); err != nil {
			t.Fatalf("first Register() error = %v", err)
		}
		if err := NewMetrics("a", "h").Register(reg); err == nil {
			t.Error("second Register() should have returned an error")
		}
	})
}

func TestMetrics_RecordSuccess(t *testing.T) {
	m := NewMetrics("app", "db.internal")
	m.Record(success(250))

	gauge, _ := m.connectionStatus.GetMetricWithLabelValues("app", "db.internal")
	if got := metricValue(t, gauge).GetGauge().GetValue(); got != 1 {
		t.Errorf("connection status = %v, want 1", got)
	}

	if got := counterValue(t, m.checksTotal, "app", "db.internal", "success"); got != 1 {
		t.Errorf("checks_total{success} = %v, want 1", got)
	}

	hist, _ := m.checkDuration.GetMetricWithLabelValues("app", "db.internal")
	h := metricValue(t, hist.(prometheus.Metric)).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("duration sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 0.25 {
		t.Errorf("duration sample sum = %v, want 0.25", h.GetSampleSum())
	}
}

func TestMetrics_RecordFailure(t *testing.T) {
	m := NewMetrics("app", "***")

	m.Record(success(1))
	m.Record(failure(dberr.CodeAuthentication))
	m.Record(failure(dberr.CodeAuthentication))
	m.Record(failure(dberr.CodeQueryTimeout))

	gauge, _ := m.connectionStatus.GetMetricWithLabelValues("app", "***")
	if got := metricValue(t, gauge).GetGauge().GetValue(); got != 0 {
		t.Errorf("connection status = %v, want 0 after failure", got)
	}

	tests := []struct {
		vec    *prometheus.CounterVec
		labels []string
		want   float64
	}{
		{m.checksTotal, []string{"app", "***", "success"}, 1},
		{m.checksTotal, []string{"app", "***", "failure"}, 3},
		{m.errorsTotal, []string{"app", "***", string(dberr.CodeAuthentication)}, 2},
		{m.errorsTotal, []string{"app", "***", string(dberr.CodeQueryTimeout)}, 1},
		{m.errorsTotal, []string{"app", "***", string(dberr.CodeConnection)}, 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.vec, tt.labels...); got != tt.want {
			t.Errorf("counter %v = %v, want %v", tt.labels, got, tt.want)
		}
	}
}

func TestDurationBuckets(t *testing.T) {
	if DurationBuckets[0] != 0.01 || DurationBuckets[len(DurationBuckets)-1] != 10 {
		t.Errorf("buckets = %v, want 0.01 to 10", DurationBuckets)
	}
	for i := 1; i < len(DurationBuckets); i++ {
		if DurationBuckets[i] <= DurationBuckets[i-1] {
			t.Errorf("buckets not increasing at %d: %v", i, DurationBuckets)
		}
	}
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("app", "db.internal")
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	m.Record(failure(dberr.CodeConnection))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", reg, logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}()

	resp, err := http.Get("http://" + srv.Addr() + Path)
	if err != nil {
		t.Fatalf("GET %s error = %v", Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := `db_up_errors_total{database="app",error_code="CONNECTION_ERROR",host="db.internal"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("body missing %q:\n%s", want, body)
	}
}

func TestServer_StartFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(ln.Addr().String(), prometheus.NewRegistry(), logger)
	if err := srv.Start(); err == nil {
		t.Error("Start() expected error for address in use")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on unstarted server error = %v", err)
	}
}
