package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/elock-client/internal/infrastructure/config"
)

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", ""} {
		for _, format := range []string{"json", "text"} {
			logger := New(config.LoggingConfig{Level: "info", Format: format, Output: output}, "1.0.0")
			if logger == nil || logger.Logger == nil {
				t.Fatalf("New(%s, %s) returned nil", output, format)
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{
			name:     "debug level",
			input:    "debug",
			expected: slog.LevelDebug,
		},
		{
			name:     "info level",
			input:    "info",
			expected: slog.LevelInfo,
		},
		{
			name:     "warn level",
			input:    "warn",
			expected: slog.LevelWarn,
		},
		{
			name:     "warning level",
			input:    "warning",
			expected: slog.LevelWarn,
		},
		{
			name:     "error level",
			input:    "error",
			expected: slog.LevelError,
		},
		{
			name:     "unknown defaults to info",
			input:    "unknown",
			expected: slog.LevelInfo,
		},
		{
			name:     "empty defaults to info",
			input:    "",
			expected: slog.LevelInfo,
		},
		{
			name:     "case insensitive",
			input:    "DEBUG",
			expected: slog.LevelDebug,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	parent := newWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &buf)

	child := parent.With("component", "channel")
	if child == parent {
		t.Fatal("With() returned the parent logger")
	}
	child.Info("connected")
	parent.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "component=channel") {
		t.Errorf("child line = %q, want component attribute", lines[0])
	}
	if strings.Contains(lines[1], "component=") {
		t.Errorf("parent line = %q, must not carry child attributes", lines[1])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)
	logger.Info("test message", "key", "value")

	output := buf.String()

	if !strings.Contains(output, `"service":"elock"`) {
		t.Error("expected output to contain service field")
	}

	if !strings.Contains(output, "test") {
		t.Error("expected output to contain version field")
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}

	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := newWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)
	logger.Info("dropped")
	logger.Warn("kept")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(output, "kept") {
		t.Error("warn message missing at warn level")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger == nil {
		t.Fatal("expected non-nil discard logger")
	}
	logger.Error("nothing to see")
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "test", &buf)

	logger.Info("signed in",
		"token", "eyJhbGciOi.secret.sig",
		slog.Group("request", slog.String("Authorization", "Bearer abc")),
		"user_id", 7,
	)

	out := buf.String()
	if strings.Contains(out, "eyJhbGciOi") || strings.Contains(out, "Bearer abc") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if strings.Count(out, "[redacted]") != 2 {
		t.Errorf("output = %s, want two redacted values", out)
	}
	if !strings.Contains(out, `"user_id":7`) {
		t.Errorf("output = %s, want user_id kept", out)
	}
}
