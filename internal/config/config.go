// Package config loads db-up settings from an optional YAML file, an
// optional .env file and the process environment. Environment variables take
// precedence over the file, which takes precedence over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/dbup/internal/backoff"
	"github.com/onnwee/dbup/internal/db"
	"github.com/onnwee/dbup/internal/health"
	"github.com/onnwee/dbup/internal/retry"
)

// Config holds all db-up settings.
type Config struct {
	Database DatabaseConfig
	Monitor  MonitorConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
	Status   StatusConfig

	// Warnings are non-fatal findings about the configuration, such as a
	// world-readable config file.
	Warnings []string
}

// DatabaseConfig describes the monitored database.
type DatabaseConfig struct {
	Name             string
	Password         string
	Host             string
	Port             int
	User             string
	SSLMode          string
	SSLVerify        bool
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	ApplicationName  string
}

// MonitorConfig controls how often and how persistently the database is checked.
type MonitorConfig struct {
	CheckInterval       time.Duration
	MaxRetries          int
	RetryBackoff        backoff.Strategy
	RetryDelay          time.Duration
	RetryJitter         bool
	HealthCheckQuery    string
	HealthCheckExpected string
	// ReadOnlyMode is accepted for compatibility. Sessions are always read-only.
	ReadOnlyMode bool
}

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level             string
	Output            string
	FilePath          string
	MaxFileSize       int
	BackupCount       int
	Format            string
	RedactCredentials bool
	RedactHostnames   bool
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
	Host    string
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Insecure     bool
}

// StatusConfig controls publishing the latest result to Redis.
type StatusConfig struct {
	Enabled   bool
	RedisURL  string
	KeyPrefix string
	// TTL is how long a published record stays readable. Zero means three
	// check intervals.
	TTL time.Duration
}

// Configuration validation errors.
var (
	ErrMissingDatabaseName  = errors.New("database name is required (set DB_NAME or database.name)")
	ErrMissingPassword      = errors.New("DB_PASSWORD environment variable is required")
	ErrInvalidSSLMode       = errors.New("invalid ssl_mode")
	ErrInvalidPort          = errors.New("port must be between 1 and 65535")
	ErrInvalidTimeout       = errors.New("timeout must be at least 1 second")
	ErrInvalidCheckInterval = errors.New("check_interval must be between 5 and 3600 seconds")
	ErrInvalidMaxRetries    = errors.New("max_retries must be non-negative")
	ErrInvalidRetryDelay    = errors.New("retry_delay must be at least 1 second")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidLogOutput     = errors.New("invalid log output")
	ErrInvalidLogFormat     = errors.New("invalid log format")
	ErrInvalidLogFileSize   = errors.New("max_file_size must be at least 1024 bytes")
	ErrInvalidBackupCount   = errors.New("backup_count must be non-negative")
	ErrInvalidExporter      = errors.New("unsupported tracing exporter")
	ErrInvalidSamplingRate  = errors.New("sampling_rate must be between 0 and 1")
	ErrMissingRedisURL      = errors.New("DB_STATUS_REDIS_URL is required when status publishing is enabled")
	ErrInvalidDatabaseURL   = errors.New("invalid DATABASE_URL")
	ErrInvalidNumber        = errors.New("must be a valid number")
	ErrInvalidBool          = errors.New("must be a boolean (true/false, 1/0, yes/no, on/off)")
)

// Defaults.
const (
	DefaultHost             = "localhost"
	DefaultPort             = 5432
	DefaultUser             = "postgres"
	DefaultSSLMode          = "require"
	DefaultConnectTimeout   = 5
	DefaultStatementTimeout = 5
	DefaultApplicationName  = "db-up"

	DefaultCheckInterval = 60
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = "exponential"
	DefaultRetryDelay    = 5

	DefaultLogLevel    = "INFO"
	DefaultLogOutput   = "console"
	DefaultLogFile     = "logs/db-up.log"
	DefaultLogMaxSize  = 10 * 1024 * 1024
	DefaultLogBackups  = 5
	DefaultLogFormat   = "text"
	DefaultMetricsPort = 9090
	DefaultMetricsHost = "0.0.0.0"

	DefaultTracingExporter = "otlp-http"
	DefaultServiceName     = "db-up"
	DefaultStatusPrefix    = "dbup:status"

	// DefaultDotEnvFile is read by Load when present.
	DefaultDotEnvFile = ".env"
)

var (
	logLevels  = []string{"DEBUG", "INFO", "WARNING", "ERROR"}
	logOutputs = []string{"console", "file", "both"}
	logFormats = []string{"text", "json"}
	exporters  = []string{"otlp-grpc", "otlp-http"}
	boolTrue   = []string{"true", "1", "yes", "on"}
	boolFalse  = []string{"false", "0", "no", "off"}
)

// Load reads configuration from the environment, an optional .env file in
// the working directory and an optional YAML config file.
// Returns the loaded config and a slice of errors (empty if valid). If the
// config file cannot be read, the config is nil.
func Load(configFilePath string) (*Config, []error) {
	if err := LoadDotEnv(DefaultDotEnvFile); err != nil {
		return nil, []error{err}
	}

	k := koanf.New(".")
	var warnings []string

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
		if w := filePermissionWarning(configFilePath); w != "" {
			warnings = append(warnings, w)
		}
		if k.Exists("database.password") {
			warnings = append(warnings, "database.password in the config file is ignored; set DB_PASSWORD instead")
		}
	}

	p := &parser{k: k}
	cfg := &Config{
		Database: p.database(),
		Monitor:  p.monitor(),
		Logging:  p.logging(),
		Metrics:  p.metrics(),
		Tracing:  p.tracing(),
		Status:   p.status(),
	}

	if !cfg.Monitor.ReadOnlyMode {
		warnings = append(warnings, "read_only_mode=false is ignored; health check sessions are always read-only")
	}
	if !cfg.Database.SSLVerify && cfg.Database.Spec().EffectiveSSLMode() != cfg.Database.SSLMode {
		warnings = append(warnings, fmt.Sprintf("ssl_verify=false: ssl_mode %s downgraded to require", cfg.Database.SSLMode))
	}
	cfg.Warnings = warnings

	errs := append(p.errs, cfg.Validate()...)
	return cfg, errs
}

// LoadDotEnv loads variables from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func filePermissionWarning(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if info.Mode().Perm()&0o004 != 0 {
		return fmt.Sprintf("config file %s is world-readable; consider chmod 600", path)
	}
	return ""
}

// parser resolves settings with env > file > default precedence and
// collects parse errors.
type parser struct {
	k    *koanf.Koanf
	errs []error
}

func (p *parser) database() DatabaseConfig {
	cfg := DatabaseConfig{
		Name:             getEnvOrDefault("DB_NAME", p.k.String("database.name"), ""),
		Password:         os.Getenv("DB_PASSWORD"),
		Host:             getEnvOrDefault("DB_HOST", p.k.String("database.host"), DefaultHost),
		Port:             p.intValue("DB_PORT", "database.port", DefaultPort),
		User:             getEnvOrDefault("DB_USER", p.k.String("database.user"), DefaultUser),
		SSLMode:          getEnvOrDefault("DB_SSL_MODE", p.k.String("database.ssl_mode"), DefaultSSLMode),
		SSLVerify:        p.boolValue("SSL_VERIFY", "database.ssl_verify", true),
		ConnectTimeout:   p.seconds("DB_CONNECT_TIMEOUT", "database.connect_timeout", DefaultConnectTimeout),
		StatementTimeout: p.seconds("DB_STATEMENT_TIMEOUT", "database.statement_timeout", DefaultStatementTimeout),
		ApplicationName:  getEnvOrDefault("DB_APPLICATION_NAME", p.k.String("database.application_name"), DefaultApplicationName),
	}

	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		if err := applyDatabaseURL(&cfg, raw); err != nil {
			p.errs = append(p.errs, err)
		}
	}
	return cfg
}

// applyDatabaseURL overrides connection fields with those in a
// postgres:// or postgresql:// URL. Parts the URL omits fall back to
// defaults rather than to other settings.
func applyDatabaseURL(cfg *DatabaseConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: could not parse", ErrInvalidDatabaseURL)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: scheme %q, expected postgres:// or postgresql://", ErrInvalidDatabaseURL, u.Scheme)
	}

	cfg.Name = strings.TrimPrefix(u.Path, "/")
	cfg.Host = DefaultHost
	if h := u.Hostname(); h != "" {
		cfg.Host = h
	}
	cfg.Port = DefaultPort
	if ps := u.Port(); ps != "" {
		port, err := strconv.Atoi(ps)
		if err != nil {
			return fmt.Errorf("%w: port %s", ErrInvalidDatabaseURL, ErrInvalidNumber)
		}
		cfg.Port = port
	}
	cfg.User = DefaultUser
	cfg.Password = ""
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			cfg.User = name
		}
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if mode := u.Query().Get("sslmode"); mode != "" && os.Getenv("DB_SSL_MODE") == "" {
		cfg.SSLMode = mode
	}
	return nil
}

func (p *parser) monitor() MonitorConfig {
	return MonitorConfig{
		CheckInterval:       p.seconds("DB_CHECK_INTERVAL", "monitor.check_interval", DefaultCheckInterval),
		MaxRetries:          p.intValue("DB_MAX_RETRIES", "monitor.max_retries", DefaultMaxRetries),
		RetryBackoff:        backoff.Strategy(strings.ToLower(getEnvOrDefault("DB_RETRY_BACKOFF", p.k.String("monitor.retry_backoff"), DefaultRetryBackoff))),
		RetryDelay:          p.seconds("DB_RETRY_DELAY", "monitor.retry_delay", DefaultRetryDelay),
		RetryJitter:         p.boolValue("DB_RETRY_JITTER", "monitor.retry_jitter", true),
		HealthCheckQuery:    getEnvOrDefault("DB_HEALTH_CHECK_QUERY", p.k.String("monitor.health_check_query"), health.DefaultQuery),
		HealthCheckExpected: getEnvOrDefault("DB_HEALTH_CHECK_EXPECTED", p.k.String("monitor.health_check_expected"), health.DefaultExpectedValue),
		ReadOnlyMode:        p.boolValue("DB_READ_ONLY_MODE", "monitor.read_only_mode", true),
	}
}

func (p *parser) logging() LoggingConfig {
	return LoggingConfig{
		Level:             strings.ToUpper(getEnvOrDefault("DB_LOG_LEVEL", p.k.String("logging.level"), DefaultLogLevel)),
		Output:            strings.ToLower(getEnvOrDefault("DB_LOG_OUTPUT", p.k.String("logging.output"), DefaultLogOutput)),
		FilePath:          getEnvOrDefault("DB_LOG_FILE", p.k.String("logging.file_path"), DefaultLogFile),
		MaxFileSize:       p.intValue("DB_LOG_MAX_SIZE", "logging.max_file_size", DefaultLogMaxSize),
		BackupCount:       p.intValue("DB_LOG_BACKUP_COUNT", "logging.backup_count", DefaultLogBackups),
		Format:            strings.ToLower(getEnvOrDefault("DB_LOG_FORMAT", p.k.String("logging.format"), DefaultLogFormat)),
		RedactCredentials: p.boolValue("DB_LOG_REDACT_CREDENTIALS", "logging.redact_credentials", true),
		RedactHostnames:   p.boolValue("DB_LOG_REDACT_HOSTNAMES", "logging.redact_hostnames", false),
	}
}

func (p *parser) metrics() MetricsConfig {
	return MetricsConfig{
		Enabled: p.boolValue("DB_METRICS_ENABLED", "metrics.enabled", false),
		Port:    p.intValue("DB_METRICS_PORT", "metrics.port", DefaultMetricsPort),
		Host:    getEnvOrDefault("DB_METRICS_HOST", p.k.String("metrics.host"), DefaultMetricsHost),
	}
}

func (p *parser) tracing() TracingConfig {
	return TracingConfig{
		Enabled:      p.boolValue("DB_TRACING_ENABLED", "tracing.enabled", false),
		ServiceName:  getEnvOrDefault("DB_TRACING_SERVICE_NAME", p.k.String("tracing.service_name"), DefaultServiceName),
		Exporter:     getEnvOrDefault("DB_TRACING_EXPORTER", p.k.String("tracing.exporter"), DefaultTracingExporter),
		Endpoint:     getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", p.k, "tracing.endpoint"),
		SamplingRate: p.floatValue("DB_TRACING_SAMPLING_RATE", "tracing.sampling_rate", 1.0),
		Insecure:     p.boolValue("DB_TRACING_INSECURE", "tracing.insecure", false),
	}
}

func (p *parser) status() StatusConfig {
	return StatusConfig{
		Enabled:   p.boolValue("DB_STATUS_ENABLED", "status.enabled", false),
		RedisURL:  getEnvOrKoanf("DB_STATUS_REDIS_URL", p.k, "status.redis_url"),
		KeyPrefix: getEnvOrDefault("DB_STATUS_KEY_PREFIX", p.k.String("status.key_prefix"), DefaultStatusPrefix),
		TTL:       p.seconds("DB_STATUS_TTL", "status.ttl", 0),
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// intValue resolves an integer setting. Unlike a plain koanf lookup, an explicit
// 0 in the file is honored.
func (p *parser) intValue(envKey, koanfKey string, defaultVal int) int {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s %w", envKey, ErrInvalidNumber))
			return defaultVal
		}
		return i
	}
	if p.k.Exists(koanfKey) {
		i, err := strconv.Atoi(p.rawString(koanfKey))
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s %w", koanfKey, ErrInvalidNumber))
			return defaultVal
		}
		return i
	}
	return defaultVal
}

// rawString renders a file value as text so numbers are parsed the same way
// as their environment counterparts.
func (p *parser) rawString(koanfKey string) string {
	return strings.TrimSpace(fmt.Sprint(p.k.Get(koanfKey)))
}

func (p *parser) seconds(envKey, koanfKey string, defaultVal int) time.Duration {
	return time.Duration(p.intValue(envKey, koanfKey, defaultVal)) * time.Second
}

func (p *parser) floatValue(envKey, koanfKey string, defaultVal float64) float64 {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s %w", envKey, ErrInvalidNumber))
			return defaultVal
		}
		return f
	}
	if p.k.Exists(koanfKey) {
		f, err := strconv.ParseFloat(p.rawString(koanfKey), 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s %w", koanfKey, ErrInvalidNumber))
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func (p *parser) boolValue(envKey, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		b, ok := parseBool(val)
		if !ok {
			p.errs = append(p.errs, fmt.Errorf("%s %w", envKey, ErrInvalidBool))
			return defaultVal
		}
		return b
	}
	if p.k.Exists(koanfKey) {
		return p.k.Bool(koanfKey)
	}
	return defaultVal
}

func parseBool(val string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	switch {
	case contains(boolTrue, v):
		return true, true
	case contains(boolFalse, v):
		return false, true
	default:
		return false, false
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate checks every setting and returns all problems found.
func (c *Config) Validate() []error {
	var errs []error

	d := c.Database
	if d.Name == "" {
		errs = append(errs, ErrMissingDatabaseName)
	}
	if d.Password == "" {
		errs = append(errs, ErrMissingPassword)
	}
	if !db.ValidSSLMode(d.SSLMode) {
		errs = append(errs, fmt.Errorf("%w %q (valid options: %s)", ErrInvalidSSLMode, d.SSLMode, strings.Join(db.SSLModes, ", ")))
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("database %w, got %d", ErrInvalidPort, d.Port))
	}
	if d.ConnectTimeout < time.Second {
		errs = append(errs, fmt.Errorf("connect_timeout: %w", ErrInvalidTimeout))
	}
	if d.StatementTimeout < time.Second {
		errs = append(errs, fmt.Errorf("statement_timeout: %w", ErrInvalidTimeout))
	}

	m := c.Monitor
	if m.CheckInterval < 5*time.Second || m.CheckInterval > time.Hour {
		errs = append(errs, ErrInvalidCheckInterval)
	}
	if m.MaxRetries < 0 {
		errs = append(errs, ErrInvalidMaxRetries)
	}
	if !m.RetryBackoff.Valid() {
		errs = append(errs, fmt.Errorf("retry_backoff: %w: %q (valid options: fixed, linear, exponential)", backoff.ErrInvalidStrategy, m.RetryBackoff))
	}
	if m.RetryDelay < time.Second {
		errs = append(errs, ErrInvalidRetryDelay)
	}
	if err := ValidateQuery(m.HealthCheckQuery); err != nil {
		errs = append(errs, err)
	}

	l := c.Logging
	if !contains(logLevels, l.Level) {
		errs = append(errs, fmt.Errorf("%w %q (valid options: %s)", ErrInvalidLogLevel, l.Level, strings.Join(logLevels, ", ")))
	}
	if !contains(logOutputs, l.Output) {
		errs = append(errs, fmt.Errorf("%w %q (valid options: %s)", ErrInvalidLogOutput, l.Output, strings.Join(logOutputs, ", ")))
	}
	if !contains(logFormats, l.Format) {
		errs = append(errs, fmt.Errorf("%w %q (valid options: %s)", ErrInvalidLogFormat, l.Format, strings.Join(logFormats, ", ")))
	}
	if l.MaxFileSize < 1024 {
		errs = append(errs, ErrInvalidLogFileSize)
	}
	if l.BackupCount < 0 {
		errs = append(errs, ErrInvalidBackupCount)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics %w, got %d", ErrInvalidPort, c.Metrics.Port))
	}

	if c.Tracing.Enabled {
		if !contains(exporters, c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("%w %q (valid options: %s)", ErrInvalidExporter, c.Tracing.Exporter, strings.Join(exporters, ", ")))
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			errs = append(errs, ErrInvalidSamplingRate)
		}
	}

	if c.Status.Enabled && c.Status.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}

	return errs
}

// LogValue logs the database settings with the password masked.
func (d DatabaseConfig) LogValue() slog.Value {
	return d.Spec().LogValue()
}

// Spec converts the database settings for the driver adapter.
func (d DatabaseConfig) Spec() db.Spec {
	return db.Spec{
		Host:             d.Host,
		Port:             d.Port,
		Database:         d.Name,
		User:             d.User,
		Password:         d.Password,
		SSLMode:          d.SSLMode,
		SSLVerify:        d.SSLVerify,
		ConnectTimeout:   d.ConnectTimeout,
		StatementTimeout: d.StatementTimeout,
		ApplicationName:  d.ApplicationName,
	}
}

// RetryPolicy returns the retry settings for one check cycle.
func (m MonitorConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: m.MaxRetries,
		Strategy:   m.RetryBackoff,
		Delay:      m.RetryDelay,
		Jitter:     m.RetryJitter,
	}
}

// CheckerConfig returns the query-side settings for health.NewChecker.
func (c *Config) CheckerConfig() health.Config {
	return health.Config{
		Query:            c.Monitor.HealthCheckQuery,
		ExpectedValue:    c.Monitor.HealthCheckExpected,
		StatementTimeout: c.Database.StatementTimeout,
	}
}

// StatusTTL returns the configured TTL or three check intervals.
func (c *Config) StatusTTL() time.Duration {
	if c.Status.TTL > 0 {
		return c.Status.TTL
	}
	return 3 * c.Monitor.CheckInterval
}
