package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration with text (un)marshaling so durations can be
// written as "30s" or "15m" in YAML and environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the top-level rulebankd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Snapshot      SnapshotConfig      `koanf:"snapshot"`
	Harvest       HarvestConfig       `koanf:"harvest"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SnapshotConfig controls rule store persistence at process boundaries.
type SnapshotConfig struct {
	// Path is where the rule snapshot is written at shutdown and read at
	// startup. A missing file at startup is not an error.
	Path string `koanf:"path"`
}

// HarvestConfig holds the startup defaults for the auto-candidate harvester.
// These seed the runtime-mutable harvest configuration; they are not
// consulted again after startup except on config file reload.
type HarvestConfig struct {
	Enabled       bool     `koanf:"enabled"`
	MinCount      int      `koanf:"min_count"`
	IncludeLevels []string `koanf:"include_levels"`
	SinceSeconds  int      `koanf:"since_seconds"`
	MinConfidence float64  `koanf:"min_confidence"`
	MaxCandidates int      `koanf:"max_candidates"`
	MinSamples    int      `koanf:"min_samples"`
	// Interval enables scheduled background harvests when > 0.
	Interval Duration `koanf:"interval"`
}

// ObservabilityConfig holds service identity and OTel export settings.
type ObservabilityConfig struct {
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool     `koanf:"insecure"`
	ExportInterval  Duration `koanf:"export_interval"`
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path cannot be empty")
	}
	if c.Harvest.MinCount < 1 {
		return fmt.Errorf("harvest.min_count must be >= 1, got %d", c.Harvest.MinCount)
	}
	if c.Harvest.MinSamples < 1 {
		return fmt.Errorf("harvest.min_samples must be >= 1, got %d", c.Harvest.MinSamples)
	}
	if c.Harvest.SinceSeconds < 1 {
		return fmt.Errorf("harvest.since_seconds must be >= 1, got %d", c.Harvest.SinceSeconds)
	}
	if c.Harvest.MinConfidence < 0 || c.Harvest.MinConfidence > 1 {
		return fmt.Errorf("harvest.min_confidence must be between 0 and 1, got %f", c.Harvest.MinConfidence)
	}
	if c.Observability.EnableTelemetry {
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("observability.endpoint is required when telemetry is enabled")
		}
		switch c.Observability.Protocol {
		case "", "grpc", "http/protobuf":
		default:
			return fmt.Errorf("observability.protocol must be 'grpc' or 'http/protobuf', got %q", c.Observability.Protocol)
		}
	}
	return nil
}
