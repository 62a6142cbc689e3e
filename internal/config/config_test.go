package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
storage:
  backend: SQLITE
antinuke:
  punishment: BAN
  thresholds:
    channel_delete:
      count: 2
      interval_seconds: 5
vanity:
  normal_interval_ms: 3000
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("ANTINUKE_API_TIMEOUT_SECONDS", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Antinuke.Punishment != "ban" {
		t.Fatalf("expected ban, got %q", cfg.Antinuke.Punishment)
	}
	if got := cfg.Antinuke.Thresholds["channel_delete"]; got.Count != 2 || got.IntervalSeconds != 5 {
		t.Fatalf("unexpected channel_delete threshold: %+v", got)
	}
	if got := cfg.Antinuke.Thresholds["kick"]; got.Count != 3 || got.IntervalSeconds != 10 {
		t.Fatalf("expected default kick threshold to survive merge, got %+v", got)
	}
	if cfg.Vanity.NormalIntervalMillis != 3000 {
		t.Fatalf("expected 3000ms, got %d", cfg.Vanity.NormalIntervalMillis)
	}
	if cfg.Vanity.ElevatedIntervalMillis != 250 {
		t.Fatalf("expected default elevated interval, got %d", cfg.Vanity.ElevatedIntervalMillis)
	}
	if cfg.Antinuke.APITimeoutSeconds != 9 {
		t.Fatalf("expected env override 9, got %d", cfg.Antinuke.APITimeoutSeconds)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestBuildLoggerWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sentinel.log")
	logger, err := BuildLogger("debug", file)
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}
