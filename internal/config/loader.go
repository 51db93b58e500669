// Package config provides configuration loading for rulebankd.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "RULEBANK_"
)

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RULEBANK_SERVER_PORT, RULEBANK_SNAPSHOT_PATH, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// configPath may be empty, in which case only env vars and defaults apply.
// A configPath pointing at a missing file is not an error; the file is simply
// skipped (it may appear later and be picked up by the watcher).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and read via the descriptor to avoid a TOCTOU race
			// between the size check and the read.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// RULEBANK_SERVER_PORT -> server.port
	// RULEBANK_HARVEST_MIN_COUNT -> harvest.min_count
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransformer maps environment variables to koanf keys.
//
// Strategy: strip the prefix, lowercase, split on the first underscore only
// (section.field_name pattern). Field names keep their underscores.
//
//	RULEBANK_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
func envTransformer(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8230
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "data/experience.snapshot.json"
	}

	// Harvester defaults mirror the zero-value HarvestConfig the store
	// starts with: disabled, conservative thresholds.
	if cfg.Harvest.MinCount == 0 {
		cfg.Harvest.MinCount = 3
	}
	if len(cfg.Harvest.IncludeLevels) == 0 {
		cfg.Harvest.IncludeLevels = []string{"ERROR", "WARN"}
	}
	if cfg.Harvest.SinceSeconds == 0 {
		cfg.Harvest.SinceSeconds = 900
	}
	if cfg.Harvest.MinConfidence == 0 {
		cfg.Harvest.MinConfidence = 0.6
	}
	if cfg.Harvest.MaxCandidates == 0 {
		cfg.Harvest.MaxCandidates = 10
	}
	if cfg.Harvest.MinSamples == 0 {
		cfg.Harvest.MinSamples = 20
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "rulebankd"
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = "0.1.0"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.ExportInterval == 0 {
		cfg.Observability.ExportInterval = Duration(15 * time.Second)
	}
}
