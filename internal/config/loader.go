package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "aidtrainer.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AIDTRAINER_PORT")
	setString(&cfg.Server.CORSOrigin, "AIDTRAINER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AIDTRAINER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AIDTRAINER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AIDTRAINER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AIDTRAINER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AIDTRAINER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AIDTRAINER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AIDTRAINER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AIDTRAINER_LOG_ASYNC")

	// Training
	setDuration(&cfg.Training.MetaSaveInterval, "AIDTRAINER_META_SAVE_INTERVAL")
	setDuration(&cfg.Training.PausePoll, "AIDTRAINER_PAUSE_POLL")
	setString(&cfg.Training.FallbackRoot, "AIDTRAINER_FALLBACK_ROOT")
	setString(&cfg.Training.RecordPolicy, "AIDTRAINER_RECORD_POLICY")
	setString(&cfg.Training.CheckpointExt, "AIDTRAINER_CHECKPOINT_EXT")
	setInt(&cfg.Training.EventBuffer, "AIDTRAINER_EVENT_BUFFER")

	// Pools
	setInt(&cfg.Pools.Training, "AIDTRAINER_POOL_TRAINING")
	setInt(&cfg.Pools.Chores, "AIDTRAINER_POOL_CHORES")
	setInt(&cfg.Pools.Augment, "AIDTRAINER_POOL_AUGMENT")

	// Cache
	setInt64(&cfg.Cache.DatasetMaxMB, "AIDTRAINER_CACHE_DATASET_MB")

	// Telemetry
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.Telemetry.Insecure, "AIDTRAINER_OTLP_INSECURE")

	// Host
	setList(&cfg.Host.GPUs, "AIDTRAINER_GPUS")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Training.MetaSaveInterval < 0 {
		return errors.New("training.meta_save_interval must be >= 0")
	}
	if cfg.Training.PausePoll <= 0 {
		return errors.New("training.pause_poll must be > 0")
	}
	if cfg.Training.FallbackRoot == "" {
		return errors.New("training.fallback_root is required")
	}
	switch cfg.Training.RecordPolicy {
	case "any", "all":
	default:
		return fmt.Errorf("training.record_policy must be any or all, got %q", cfg.Training.RecordPolicy)
	}
	if cfg.Training.EventBuffer < 1 {
		return errors.New("training.event_buffer must be >= 1")
	}
	if cfg.Pools.Training < 0 || cfg.Pools.Chores < 0 || cfg.Pools.Augment < 0 {
		return errors.New("pools limits must be >= 0")
	}
	if cfg.Cache.DatasetMaxMB < 1 {
		return errors.New("cache.dataset_max_mb must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
