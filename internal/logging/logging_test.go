package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestZapLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Config{Level: InfoLevel, Output: &buf, Name: "test"})

	logger.Info("cache warmed", Field{Key: "keys", Value: 3})

	out := buf.String()
	if !strings.Contains(out, "cache warmed") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "INFO") {
		t.Errorf("expected level in output, got %q", out)
	}
}

func TestZapLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Config{Level: WarnLevel, Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected sub-warn output suppressed, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("expected warn output, got %q", out)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Config{Level: InfoLevel, Output: &buf})

	scoped := logger.With(Field{Key: "component", Value: "store"})
	scoped.Info("entry evicted")

	if out := buf.String(); !strings.Contains(out, "store") {
		t.Errorf("expected scoped field in output, got %q", out)
	}
}
