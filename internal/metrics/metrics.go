// Package metrics exposes health check outcomes as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/dbup/internal/health"
)

// Metric names as constants for consistency.
const (
	MetricConnectionStatus = "db_up_connection_status"
	MetricCheckDuration    = "db_up_check_duration_seconds"
	MetricChecksTotal      = "db_up_checks_total"
	MetricErrorsTotal      = "db_up_errors_total"
)

// DurationBuckets are the histogram buckets for check duration, in seconds.
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics contains the Prometheus collectors for one monitored database.
// All operations are thread-safe.
type Metrics struct {
	database string
	host     string

	connectionStatus *prometheus.GaugeVec
	checkDuration    *prometheus.HistogramVec
	checksTotal      *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// NewMetrics creates collectors labeled with the given database and host.
// The metrics are not registered; call Register to register them with a registry.
// Pass a masked host when hostnames must not appear in labels.
func NewMetrics(database, host string) *Metrics {
	return &Metrics{
		database: database,
		host:     host,
		connectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricConnectionStatus,
				Help: "Database connection status (1 = up, 0 = down)",
			},
			[]string{"database", "host"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricCheckDuration,
				Help:    "Histogram of health check duration in seconds",
				Buckets: DurationBuckets,
			},
			[]string{"database", "host"},
		),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricChecksTotal,
				Help: "Total number of health checks by status",
			},
			[]string{"database", "host", "status"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricErrorsTotal,
				Help: "Total number of failed health checks by error code",
			},
			[]string{"database", "host", "error_code"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionStatus,
		m.checkDuration,
		m.checksTotal,
		m.errorsTotal,
	}
}

// Record updates every family from one check result.
func (m *Metrics) Record(r health.Result) {
	status := 0.0
	if r.IsSuccess() {
		status = 1
	}
	m.connectionStatus.WithLabelValues(m.database, m.host).Set(status)
	m.checkDuration.WithLabelValues(m.database, m.host).Observe(r.ResponseTimeMS / 1000)
	m.checksTotal.WithLabelValues(m.database, m.host, string(r.Status)).Inc()

	if !r.IsSuccess() {
		m.errorsTotal.WithLabelValues(m.database, m.host, string(r.ErrorCode)).Inc()
	}
}
