package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(&buf, Options{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in log entry")
	}
}

func TestSetup_DefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(&buf, Options{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	l.Info("hello")

	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(&buf, Options{Format: FormatText})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	l.Info("session ended", slog.String("session_id", "s1"))

	out := buf.String()
	if !strings.Contains(out, "session ended") || !strings.Contains(out, "session_id=s1") {
		t.Errorf("unexpected text output: %q", out)
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Error("text format must not be JSON")
	}
}

// TestSetup_LevelFilters は指定レベル未満のログが出力されないことを検証する。
func TestSetup_LevelFilters(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatText} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := Setup(&buf, Options{Format: format, Level: "warn"})
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}

			l.Info("hidden")
			l.Warn("shown")

			if strings.Contains(buf.String(), "hidden") {
				t.Error("info must be filtered at warn level")
			}
			if !strings.Contains(buf.String(), "shown") {
				t.Error("warn must be logged")
			}
		})
	}
}

func TestSetup_Errors(t *testing.T) {
	if _, err := Setup(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := Setup(&bytes.Buffer{}, Options{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	var buf bytes.Buffer
	if err := SetupDefault(&buf, Options{Format: FormatJSON}); err != nil {
		t.Fatalf("SetupDefault: %v", err)
	}
	slog.Info("global")

	if !strings.Contains(buf.String(), `"msg":"global"`) {
		t.Errorf("global logger not set, output %q", buf.String())
	}
}
