// Package config loads missionctl settings from defaults, an optional
// YAML file, and MISSION_CONTROL_-prefixed environment variables, in
// that order of precedence (later wins).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the environment variables consulted by Load.
// Double underscore nests: MISSION_CONTROL_WORKER__LIMIT=50 sets
// worker.limit, while MISSION_CONTROL_DB_PATH stays the flat db_path.
const EnvPrefix = "MISSION_CONTROL_"

// Config is the resolved runtime configuration.
type Config struct {
	// DBPath is the SQLite database file. Empty falls back to
	// MISSION_CONTROL_DB_PATH, then the conventional default.
	DBPath string `koanf:"db_path"`

	HTTP   HTTPConfig   `koanf:"http"`
	Log    LogConfig    `koanf:"log"`
	Worker WorkerConfig `koanf:"worker"`
}

// HTTPConfig configures the debug HTTP server.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

// WorkerConfig tunes the delivery worker.
type WorkerConfig struct {
	Limit          int   `koanf:"limit"`
	MaxAttempts    int64 `koanf:"max_attempts"`
	RetryDelayMs   int64 `koanf:"retry_delay_ms"`
	PollIntervalMs int64 `koanf:"poll_interval_ms"`
}

func defaults() map[string]any {
	return map[string]any{
		"db_path":                 "",
		"http.addr":               "127.0.0.1:7478",
		"log.level":               "info",
		"worker.limit":            20,
		"worker.max_attempts":     int64(3),
		"worker.retry_delay_ms":   int64(30_000),
		"worker.poll_interval_ms": int64(5_000),
	}
}

// Load resolves the configuration. path names a YAML file; empty path
// means defaults plus environment only. A missing file at an explicit
// path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// MISSION_CONTROL_WORKER__MAX_ATTEMPTS → worker.max_attempts
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
