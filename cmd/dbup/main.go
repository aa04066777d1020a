// Package main is the entry point for the db-up PostgreSQL monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/onnwee/dbup/internal/config"
	"github.com/onnwee/dbup/internal/db"
	"github.com/onnwee/dbup/internal/health"
	"github.com/onnwee/dbup/internal/logging"
	"github.com/onnwee/dbup/internal/metrics"
	"github.com/onnwee/dbup/internal/monitor"
	"github.com/onnwee/dbup/internal/redact"
	"github.com/onnwee/dbup/internal/status"
	"github.com/onnwee/dbup/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

const shutdownTimeout = 10 * time.Second

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("db-up", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file")
	once := fs.Bool("once", false, "run a single health check and exit (0 = healthy, 1 = unhealthy)")
	showVersion := fs.Bool("version", false, "print version and exit")
	help := fs.Bool("help", false, "display help message")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *help {
		fmt.Fprintln(stdout, "db-up: PostgreSQL database connectivity monitor")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Usage: db-up [options]")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Options:")
		fs.SetOutput(stdout)
		fs.PrintDefaults()
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Examples:")
		fmt.Fprintln(stdout, "  DB_NAME=mydb DB_PASSWORD=secret db-up")
		fmt.Fprintln(stdout, "  db-up -config config.yaml")
		fmt.Fprintln(stdout, "  db-up -once")
		return exitOK
	}

	if *showVersion {
		fmt.Fprintf(stdout, "db-up %s\n", version)
		return exitOK
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(stderr, "Error loading configuration: %s\n", redact.Sanitize(err.Error(), false))
		}
		return exitFailure
	}

	logger, closeLog, err := logging.New(cfg.Logging, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logging: %v\n", err)
		return exitFailure
	}
	defer closeLog()
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	logger.Debug("effective configuration", slog.Any("config", cfg.LogSummary()))

	return newApp(cfg, logger).start(ctx, *once)
}

// app wires the configured components around a monitor.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	instanceID string
	host       string
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	host := cfg.Database.Host
	if cfg.Logging.RedactHostnames {
		host = redact.Mask
	}
	return &app{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString(),
		host:       host,
	}
}

func (a *app) start(ctx context.Context, once bool) int {
	connector := db.NewConnector(a.cfg.Database.Spec())
	checker := health.NewChecker(connector, a.cfg.CheckerConfig(),
		health.WithRedactHostnames(a.cfg.Logging.RedactHostnames),
	)

	opts := []monitor.Option{
		monitor.WithLogger(a.logger),
		monitor.WithInstanceID(a.instanceID),
		monitor.WithTarget(monitor.Target{
			Database: a.cfg.Database.Name,
			Host:     a.host,
			Port:     a.cfg.Database.Port,
		}),
	}

	if recorder, shutdown := a.startMetrics(); recorder != nil {
		defer shutdown()
		opts = append(opts, monitor.WithRecorder(recorder))
	}

	if shutdown := a.startTracing(); shutdown != nil {
		defer shutdown()
	}

	if publisher := a.startStatus(ctx); publisher != nil {
		defer publisher.Close()
		opts = append(opts, monitor.WithPublisher(publisher))
	}

	mon := monitor.New(checker, a.cfg.Monitor.RetryPolicy(), a.cfg.Monitor.CheckInterval, opts...)

	if once {
		if result := mon.RunOnce(ctx); !result.IsSuccess() {
			return exitFailure
		}
		return exitOK
	}

	mon.Run(ctx)
	return exitOK
}

// startMetrics registers the collectors and serves them. A server that
// cannot bind disables metrics for the session.
func (a *app) startMetrics() (*metrics.Metrics, func()) {
	if !a.cfg.Metrics.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(a.cfg.Database.Name, a.host)
	if err := m.Register(reg); err != nil {
		a.logger.Error("failed to register metrics; metrics disabled for this session", "error", err)
		return nil, nil
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	addr := net.JoinHostPort(a.cfg.Metrics.Host, strconv.Itoa(a.cfg.Metrics.Port))
	srv := metrics.NewServer(addr, reg, a.logger)
	if err := srv.Start(); err != nil {
		a.logger.Error("metrics server failed to start; metrics disabled for this session",
			"error", err,
			"port", a.cfg.Metrics.Port,
		)
		return nil, nil
	}

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("error shutting down metrics server", "error", err)
		}
	}
}

// startTracing installs the tracer provider. Tracing failures are logged and
// monitoring continues untraced.
func (a *app) startTracing() func() {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: version,
		InstanceID:     a.instanceID,
		Enabled:        a.cfg.Tracing.Enabled,
		ExporterType:   a.cfg.Tracing.Exporter,
		OTLPEndpoint:   a.cfg.Tracing.Endpoint,
		SamplingRate:   a.cfg.Tracing.SamplingRate,
		InsecureMode:   a.cfg.Tracing.Insecure,
	}, a.logger)
	if err != nil {
		a.logger.Error("failed to initialize tracing; continuing without traces", "error", err)
		return nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			a.logger.Warn("error shutting down tracing", "error", err)
		}
	}
}

// startStatus connects the Redis status publisher. An unreachable Redis is
// reported but does not stop monitoring; each later write logs its own error.
func (a *app) startStatus(ctx context.Context) *status.Publisher {
	if !a.cfg.Status.Enabled {
		return nil
	}

	client, err := status.NewClient(a.cfg.Status.RedisURL)
	if err != nil {
		a.logger.Error("status publishing disabled", "error", err)
		return nil
	}

	publisher, err := status.NewPublisher(client, status.Options{
		KeyPrefix:  a.cfg.Status.KeyPrefix,
		Database:   a.cfg.Database.Name,
		Host:       a.host,
		InstanceID: a.instanceID,
		TTL:        a.cfg.StatusTTL(),
	})
	if err != nil {
		_ = client.Close()
		a.logger.Error("status publishing disabled", "error", err)
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, status.DefaultWriteTimeout)
	defer cancel()
	if err := publisher.Ping(pingCtx); err != nil {
		a.logger.Warn("status redis is not reachable", "error", err)
	}

	a.logger.Info("publishing status", "key", publisher.Key(), "ttl", a.cfg.StatusTTL())
	return publisher
}
