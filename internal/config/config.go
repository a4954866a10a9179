// Package config provides hierarchical configuration loading for AIDTrainer.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all runtime configuration for the AIDTrainer service and CLI.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Training  Training  `yaml:"training"`
	Pools     Pools     `yaml:"pools"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	Host      Host      `yaml:"host"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the event archive connection. An empty DSN disables the archive.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Training holds the defaults of the run controller.
type Training struct {
	MetaSaveInterval time.Duration `yaml:"meta_save_interval"` // History flush cadence
	PausePoll        time.Duration `yaml:"pause_poll"`         // Poll interval while paused
	FallbackRoot     string        `yaml:"fallback_root"`      // Parent of fallback directories
	RecordPolicy     string        `yaml:"record_policy"`      // "any" | "all"
	CheckpointExt    string        `yaml:"checkpoint_ext"`     // Extension of checkpoint files
	EventBuffer      int           `yaml:"event_buffer"`       // Per-task event queue length
}

// Pools bounds concurrent background work. A limit of 0 is uncapped.
type Pools struct {
	Training int `yaml:"training"`
	Chores   int `yaml:"chores"`
	Augment  int `yaml:"augment"`
}

// Cache holds the preloaded dataset cache configuration.
type Cache struct {
	DatasetMaxMB int64 `yaml:"dataset_max_mb"`
}

// Telemetry holds OpenTelemetry export configuration. An empty endpoint keeps
// the no-op providers.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Host describes devices not discoverable from the OS.
type Host struct {
	GPUs []string `yaml:"gpus"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "aidtrainer",
		},
		Training: Training{
			MetaSaveInterval: 30 * time.Second,
			PausePoll:        time.Second,
			FallbackRoot:     filepath.Join(os.TempDir(), "aidtrainer"),
			RecordPolicy:     "any",
			CheckpointExt:    ".model",
			EventBuffer:      256,
		},
		Pools: Pools{
			Training: 0,
			Chores:   1,
			Augment:  4,
		},
		Cache: Cache{
			DatasetMaxMB: 512,
		},
		Telemetry: Telemetry{
			ServiceName: "aidtrainer",
			Insecure:    true,
		},
	}
}
