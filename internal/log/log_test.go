package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedscan.log")

	l := Setup(Options{Level: "debug", File: path})
	l.Info("frame captured", "width", 1280)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"frame captured"`) {
		t.Errorf("log file missing record: %s", data)
	}
	if !strings.Contains(string(data), `"width":1280`) {
		t.Errorf("log file missing attribute: %s", data)
	}

	if L() != l {
		t.Error("L() should return the logger installed by Setup")
	}
}

func TestFileSinkRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedscan.log")

	l := Setup(Options{Level: "warn", File: path})
	l.Info("dropped")
	l.Warn("kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn record should be written")
	}
}
