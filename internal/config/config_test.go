package config

import (
	"path/filepath"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}

	t.Setenv("AUDIOPIPE_API_KEY", "sk-test")
	t.Setenv("AUDIOPIPE_ENDPOINT", "http://127.0.0.1:9000/v1/audio/transcriptions")
	t.Setenv("AUDIOPIPE_LANGUAGE", "de")
	t.Setenv("AUDIOPIPE_LOG_LEVEL", "debug")
	t.Setenv("AUDIOPIPE_LOG_FORMAT", "json")

	applyEnvOverrides(cfg)

	if cfg.Transcriber.APIKey != "sk-test" {
		t.Fatalf("api key override failed: %+v", cfg.Transcriber)
	}
	if cfg.Transcriber.Endpoint != "http://127.0.0.1:9000/v1/audio/transcriptions" {
		t.Fatalf("endpoint override failed: %+v", cfg.Transcriber)
	}
	if cfg.Transcriber.Language != "de" {
		t.Fatalf("language override failed: %+v", cfg.Transcriber)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Segment.WindowSec = 45
	cfg.Transcriber.Model = "whisper-large"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Segment.WindowSec != 45 {
		t.Fatalf("expected window_sec to persist, got %v", loaded.Segment.WindowSec)
	}
	if loaded.Transcriber.Model != "whisper-large" {
		t.Fatalf("expected model to persist, got %q", loaded.Transcriber.Model)
	}
}

func TestLoadWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.ConfigPath != path {
		t.Fatalf("config path not recorded: %q", cfg.Paths.ConfigPath)
	}
	// A second load must read the template back.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Transcriber.MaxAttempts != cfg.Transcriber.MaxAttempts {
		t.Fatalf("template round trip mismatch")
	}
}

func TestTimeoutHelpers(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Segment.WindowTimeoutSec = 1.5
	if got := cfg.WindowTimeout().Milliseconds(); got != 1500 {
		t.Fatalf("window timeout: got %dms", got)
	}
	if cfg.GlobalTimeout() <= cfg.WindowTimeout() {
		t.Fatalf("global timeout should exceed window timeout by default")
	}
}
