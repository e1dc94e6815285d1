// Package telemetry configures structured logging for the daemon. All logs
// are JSON lines written to <home>/logs/system.jsonl and, unless quiet,
// mirrored to stdout. Secret-looking keys and values are redacted before
// they reach any sink, and the level can be adjusted at runtime.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/amayahq/amaya/internal/shared"
)

// Sink bundles the configured logger with its file handle and a mutable
// level, so config hot-reload can change verbosity without reopening sinks.
type Sink struct {
	Logger *slog.Logger
	level  *slog.LevelVar
	file   *os.File
}

// NewSink opens <homeDir>/logs/system.jsonl and builds the JSON logger.
// With quiet set, stdout mirroring is disabled and only the file is written.
func NewSink(homeDir, level string, quiet bool) (*Sink, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(filepath.Join(logDir, "system.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	lvl := new(slog.LevelVar)
	lvl.Set(ParseLevel(level))

	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: sanitizeAttr,
	})
	return &Sink{
		Logger: slog.New(handler).With("component", "amaya"),
		level:  lvl,
		file:   file,
	}, nil
}

// SetLevel adjusts the minimum level of all loggers derived from this sink.
func (s *Sink) SetLevel(level string) {
	s.level.Set(ParseLevel(level))
}

func (s *Sink) Close() error {
	return s.file.Close()
}

// sanitizeAttr renames the time key to "timestamp" and redacts attrs whose
// key or value looks secret-bearing.
func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if secretKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if redacted := shared.Redact(a.Value.String()); redacted != a.Value.String() {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

var sensitiveKeyTokens = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

func secretKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, tok := range sensitiveKeyTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
