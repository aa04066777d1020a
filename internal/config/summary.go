package config

import (
	"github.com/onnwee/dbup/internal/redact"
)

// LogSummary returns the effective configuration for logging. Secrets are
// masked, the connection string keeps only the username and, with hostname
// redaction on, the host is masked too.
func (c *Config) LogSummary() map[string]any {
	host := c.Database.Host
	connection := c.Database.Spec().Redacted()
	if c.Logging.RedactHostnames {
		host = redact.Mask
		connection = redact.Sanitize(connection, true)
	}

	summary := map[string]any{
		"database": map[string]any{
			"name":              c.Database.Name,
			"host":              host,
			"port":              c.Database.Port,
			"user":              c.Database.User,
			"password":          c.Database.Password,
			"ssl_mode":          c.Database.SSLMode,
			"ssl_verify":        c.Database.SSLVerify,
			"connect_timeout":   c.Database.ConnectTimeout.String(),
			"statement_timeout": c.Database.StatementTimeout.String(),
			"application_name":  c.Database.ApplicationName,
			"connection":        connection,
		},
		"monitor": map[string]any{
			"check_interval":     c.Monitor.CheckInterval.String(),
			"max_retries":        c.Monitor.MaxRetries,
			"retry_backoff":      string(c.Monitor.RetryBackoff),
			"retry_delay":        c.Monitor.RetryDelay.String(),
			"retry_jitter":       c.Monitor.RetryJitter,
			"health_check_query": c.Monitor.HealthCheckQuery,
			"read_only_mode":     c.Monitor.ReadOnlyMode,
		},
		"logging": map[string]any{
			"level":              c.Logging.Level,
			"output":             c.Logging.Output,
			"format":             c.Logging.Format,
			"redact_credentials": c.Logging.RedactCredentials,
			"redact_hostnames":   c.Logging.RedactHostnames,
		},
		"metrics": map[string]any{
			"enabled": c.Metrics.Enabled,
			"host":    c.Metrics.Host,
			"port":    c.Metrics.Port,
		},
		"tracing": map[string]any{
			"enabled":       c.Tracing.Enabled,
			"exporter":      c.Tracing.Exporter,
			"endpoint":      c.Tracing.Endpoint,
			"sampling_rate": c.Tracing.SamplingRate,
		},
		"status": map[string]any{
			"enabled":    c.Status.Enabled,
			"redis_url":  redact.RedactConnectionURI(c.Status.RedisURL),
			"key_prefix": c.Status.KeyPrefix,
		},
	}

	return redact.RedactStructured(summary).(map[string]any)
}
