package output

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestLogOptions_Level(t *testing.T) {
	tests := []struct {
		name string
		opts LogOptions
		want slog.Level
	}{
		{"default", LogOptions{}, slog.LevelWarn},
		{"verbose", LogOptions{Verbose: true}, slog.LevelInfo},
		{"debug", LogOptions{Debug: true}, slog.LevelDebug},
		{"debug over verbose", LogOptions{Verbose: true, Debug: true}, slog.LevelDebug},
		{"quiet over debug", LogOptions{Quiet: true, Debug: true}, slog.Level(math.MaxInt)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetupLogger_DefaultKeepsRuleWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(LogOptions{}, &buf)

	logger.Info("file traversal finished", "path", "A.java")
	if buf.Len() != 0 {
		t.Errorf("info should be suppressed by default, got %q", buf.String())
	}

	logger.Warn("rule disabled by configuration error", "rule", "S2254")
	if !strings.Contains(buf.String(), "rule=S2254") {
		t.Errorf("expected the warning in text form, got %q", buf.String())
	}
}

func TestSetupLogger_QuietDropsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(LogOptions{Quiet: true, Debug: true}, &buf)

	logger.Error("running rules", "err", "boom")
	if buf.Len() != 0 {
		t.Errorf("quiet should drop everything, got %q", buf.String())
	}
}

func TestSetupLogger_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(LogOptions{Debug: true}, &buf)

	logger.Debug("cache miss", "key", "abc")
	out := buf.String()
	if !strings.Contains(out, "cache miss") || !strings.Contains(out, "source=") {
		t.Errorf("expected a debug record with its source location, got %q", out)
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(LogOptions{JSON: true}, &buf)

	logger.Warn("rule callback failed", "rule", "S2077", "line", 12)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["rule"] != "S2077" || rec["msg"] != "rule callback failed" {
		t.Errorf("unexpected record %v", rec)
	}
}
