package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSinkWritesJSONL(t *testing.T) {
	home := t.TempDir()
	sink, err := NewSink(home, "info", true)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	sink.Logger.Info("reminder scheduled", "reminder_id", "reminder_1700000000_ab12")
	_ = sink.Close()

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, `"timestamp"`) {
		t.Fatalf("expected renamed time key, got %s", line)
	}
	if !strings.Contains(line, "reminder_1700000000_ab12") {
		t.Fatalf("expected reminder id in log, got %s", line)
	}
}

func TestNewSinkRedactsSecretKeys(t *testing.T) {
	home := t.TempDir()
	sink, err := NewSink(home, "debug", true)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	sink.Logger.Info("starting telegram channel", "bot_token", "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1")
	_ = sink.Close()

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "AAHdqTcvCH1v") {
		t.Fatalf("token leaked into log: %s", data)
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Fatalf("expected redaction placeholder: %s", data)
	}
}

func TestSetLevelRaisesThreshold(t *testing.T) {
	home := t.TempDir()
	sink, err := NewSink(home, "info", true)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	sink.Logger.Info("before raise")
	sink.SetLevel("error")
	sink.Logger.Info("after raise")
	_ = sink.Close()

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "before raise") {
		t.Fatalf("info line missing before level raise: %s", data)
	}
	if strings.Contains(string(data), "after raise") {
		t.Fatalf("info line logged despite error level: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
