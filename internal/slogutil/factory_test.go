package slogutil

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"kgindex/internal/config"
	"kgindex/internal/paths"
)

func TestLoggerFactory_Component(t *testing.T) {
	layout := paths.Layout{Root: t.TempDir()}
	f := NewLoggerFactory(layout, config.LoggingConfig{Level: "debug", MaxSize: "1MB", MaxBackups: 1}, slog.LevelWarn)
	var console bytes.Buffer
	f.stderr = &console

	logger := f.Component("watch")
	logger.Debug("Tick")
	logger.Warn("Rebuild failed", "error", "boom")

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(layout.LogPath("watch"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	file := string(data)
	if !strings.Contains(file, "Tick") {
		t.Errorf("file log should include debug records: %s", file)
	}
	if !strings.Contains(file, "component=watch") {
		t.Errorf("file log missing component attr: %s", file)
	}
	if strings.Contains(console.String(), "Tick") {
		t.Errorf("console should filter debug at warn level: %s", console.String())
	}
	if !strings.Contains(console.String(), "Rebuild failed") {
		t.Errorf("console missing warn record: %s", console.String())
	}
}
