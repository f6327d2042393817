package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mtzanidakis/quorum/internal/config"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Error("expected debug")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Error("expected warn")
	}
	if ParseLevel("") != slog.LevelInfo {
		t.Error("expected info default")
	}
}

func TestNewJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	New(config.LogConfig{Level: "info", Format: "json"}, &buf)

	slog.Debug("hidden")
	slog.Info("run completed", "role", "research")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("expected json output, got %q: %v", line, err)
	}
	if rec["role"] != "research" {
		t.Errorf("expected role attribute, got %v", rec)
	}
}
