package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agora/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.log")
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("gateway started", "addr", "127.0.0.1:0")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"gateway started"`) {
		t.Errorf("log output missing record: %s", raw)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.log")
	log, closer, err := New(config.LoggerConfig{Level: "error", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("quiet")
	log.Error("loud")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "quiet") {
		t.Error("info record leaked past error level")
	}
	if !strings.Contains(string(raw), "loud") {
		t.Error("error record missing")
	}
}
