package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/dbup/internal/config"
)

func baseConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:             "INFO",
		Output:            "console",
		Format:            "json",
		MaxFileSize:       config.DefaultLogMaxSize,
		BackupCount:       1,
		RedactCredentials: true,
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARNING", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"TRACE", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(baseConfig(), &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()

	logger.Debug("hidden")
	logger.Info("health check passed", slog.Float64("response_time_ms", 12.5))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line above INFO, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["application"] != Application {
		t.Errorf("application = %v, want %s", entry["application"], Application)
	}
	if entry["msg"] != "health check passed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["response_time_ms"] != 12.5 {
		t.Errorf("response_time_ms = %v", entry["response_time_ms"])
	}
}

func TestNew_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(baseConfig(), &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()

	logger.Error("connect failed: password=Hunter22 at postgres://u:Hunter22@db/app",
		slog.String("password", "Hunter22"),
		slog.String("detail", "DB_PASSWORD=Hunter22"),
	)

	if strings.Contains(buf.String(), "Hunter22") {
		t.Errorf("log output leaks password: %s", buf.String())
	}
}

func TestNew_RedactionDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.RedactCredentials = false

	var buf bytes.Buffer
	logger, closeFn, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()

	logger.Info("value", slog.String("detail", "password=visible"))
	if !strings.Contains(buf.String(), "password=visible") {
		t.Errorf("expected raw output without redaction, got %s", buf.String())
	}
}

func TestNew_TextFormat(t *testing.T) {
	cfg := baseConfig()
	cfg.Format = "text"
	cfg.Level = "DEBUG"

	var buf bytes.Buffer
	logger, closeFn, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()

	logger.Debug("starting", slog.Int("check_number", 1))
	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "check_number=1") || !strings.Contains(out, "application=db-up") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNew_FileOutputs(t *testing.T) {
	for _, output := range []string{"file", "both"} {
		t.Run(output, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Output = output
			cfg.FilePath = filepath.Join(t.TempDir(), "logs", "db-up.log")

			var console bytes.Buffer
			logger, closeFn, err := New(cfg, &console)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			logger.Info("to file")
			if err := closeFn(); err != nil {
				t.Fatalf("close error = %v", err)
			}

			data, err := os.ReadFile(cfg.FilePath)
			if err != nil {
				t.Fatalf("read log file: %v", err)
			}
			if !strings.Contains(string(data), "to file") {
				t.Errorf("log file = %q, want record", data)
			}

			wantConsole := output == "both"
			if got := strings.Contains(console.String(), "to file"); got != wantConsole {
				t.Errorf("console has record = %t, want %t", got, wantConsole)
			}
		})
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.LoggingConfig)
	}{
		{"level", func(c *config.LoggingConfig) { c.Level = "LOUD" }},
		{"output", func(c *config.LoggingConfig) { c.Output = "syslog" }},
		{"format", func(c *config.LoggingConfig) { c.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			if _, _, err := New(cfg, &bytes.Buffer{}); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestNewRotator_SizeRounding(t *testing.T) {
	tests := []struct {
		bytes int
		want  int
	}{
		{1024, 1},
		{1024 * 1024, 1},
		{1024*1024 + 1, 2},
		{10 * 1024 * 1024, 10},
	}
	for _, tt := range tests {
		cfg := baseConfig()
		cfg.MaxFileSize = tt.bytes
		if got := newRotator(cfg).MaxSize; got != tt.want {
			t.Errorf("newRotator(%d bytes).MaxSize = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}
