package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Training.MetaSaveInterval != 30*time.Second {
		t.Errorf("expected meta save interval 30s, got %v", cfg.Training.MetaSaveInterval)
	}
	if cfg.Training.PausePoll != time.Second {
		t.Errorf("expected pause poll 1s, got %v", cfg.Training.PausePoll)
	}
	if cfg.Pools.Training != 0 || cfg.Pools.Chores != 1 || cfg.Pools.Augment != 4 {
		t.Errorf("unexpected pool defaults %+v", cfg.Pools)
	}
	if cfg.Postgres.DSN != "" || cfg.NATS.URL != "" {
		t.Error("archive and event bus must be disabled by default")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
training:
  meta_save_interval: 5s
  record_policy: all
pools:
  augment: 8
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Training.MetaSaveInterval != 5*time.Second {
		t.Errorf("expected interval 5s, got %v", cfg.Training.MetaSaveInterval)
	}
	if cfg.Training.RecordPolicy != "all" {
		t.Errorf("expected record policy all, got %s", cfg.Training.RecordPolicy)
	}
	if cfg.Pools.Augment != 8 {
		t.Errorf("expected augment pool 8, got %d", cfg.Pools.Augment)
	}
	// Unchanged fields keep defaults
	if cfg.Training.PausePoll != time.Second {
		t.Errorf("expected default pause poll, got %v", cfg.Training.PausePoll)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AIDTRAINER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("AIDTRAINER_META_SAVE_INTERVAL", "1m")
	t.Setenv("AIDTRAINER_POOL_AUGMENT", "2")
	t.Setenv("AIDTRAINER_LOG_ASYNC", "true")
	t.Setenv("AIDTRAINER_GPUS", "cuda:0, cuda:1")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected DSN %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("unexpected NATS URL %s", cfg.NATS.URL)
	}
	if cfg.Training.MetaSaveInterval != time.Minute {
		t.Errorf("expected 1m, got %v", cfg.Training.MetaSaveInterval)
	}
	if cfg.Pools.Augment != 2 {
		t.Errorf("expected augment pool 2, got %d", cfg.Pools.Augment)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging")
	}
	if len(cfg.Host.GPUs) != 2 || cfg.Host.GPUs[1] != "cuda:1" {
		t.Errorf("unexpected GPUs %v", cfg.Host.GPUs)
	}
}

func TestEnvInvalidIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("AIDTRAINER_POOL_CHORES", "many")
	t.Setenv("AIDTRAINER_PAUSE_POLL", "soon")
	loadEnv(&cfg)
	if cfg.Pools.Chores != 1 {
		t.Errorf("invalid int should be ignored, got %d", cfg.Pools.Chores)
	}
	if cfg.Training.PausePoll != time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Training.PausePoll)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"pg without conns", func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 }, "max_conns"},
		{"zero poll", func(c *Config) { c.Training.PausePoll = 0 }, "pause_poll"},
		{"bad policy", func(c *Config) { c.Training.RecordPolicy = "most" }, "record_policy"},
		{"negative pool", func(c *Config) { c.Pools.Augment = -1 }, "pools"},
		{"no fallback", func(c *Config) { c.Training.FallbackRoot = "" }, "fallback_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidtrainer.yaml")
	if err := os.WriteFile(path, []byte("training:\n  pause_poll: 250ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AIDTRAINER_PAUSE_POLL", "2s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Training.PausePoll != 2*time.Second {
		t.Errorf("env must win over yaml, got %v", cfg.Training.PausePoll)
	}
}
