// Package config provides configuration loading for skywatchd.
package config

import (
	"fmt"
	"time"

	"github.com/kestrellabs/skywatch/internal/compose"
	"github.com/kestrellabs/skywatch/internal/embeddings"
	"github.com/kestrellabs/skywatch/internal/generate"
	"github.com/kestrellabs/skywatch/internal/index"
	"github.com/kestrellabs/skywatch/internal/ingest"
	"github.com/kestrellabs/skywatch/internal/logging"
	"github.com/kestrellabs/skywatch/internal/retrieval"
	"github.com/kestrellabs/skywatch/internal/telemetry"
)

// Config is the root configuration for skywatchd.
type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Logging    logging.Config            `koanf:"logging"`
	Embeddings embeddings.ProviderConfig `koanf:"embeddings"`
	Generation generate.Config           `koanf:"generation"`
	Freshness  index.FreshnessConfig     `koanf:"freshness"`
	Rebuild    RebuildConfig             `koanf:"rebuild"`
	Retrieval  retrieval.Config          `koanf:"retrieval"`
	Compose    compose.Config            `koanf:"compose"`
	Ingest     IngestConfig              `koanf:"ingest"`
	Snapshot   SnapshotConfig            `koanf:"snapshot"`
	Telemetry  telemetry.Config          `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RebuildConfig controls the background maintenance loop.
type RebuildConfig struct {
	// CheckInterval between maintenance evaluations. Default: 15s.
	CheckInterval time.Duration `koanf:"check_interval"`
}

// IngestConfig holds ingestion adapter configuration.
type IngestConfig struct {
	// NATS enables the NATS subject subscriber when true.
	NATSEnabled bool              `koanf:"nats_enabled"`
	NATS        ingest.NATSConfig `koanf:"nats"`

	// FileWatch paths are optional; leaving both empty disables the
	// file watcher.
	FileWatch ingest.FileWatchConfig `koanf:"filewatch"`
}

// SnapshotConfig controls the optional warm-restart snapshot.
type SnapshotConfig struct {
	// Path of the snapshot file. Empty disables snapshots.
	Path string `koanf:"path"`

	// Interval between snapshot writes. Default: 1m.
	Interval time.Duration `koanf:"interval"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Rebuild.CheckInterval == 0 {
		c.Rebuild.CheckInterval = 15 * time.Second
	}
	if c.Snapshot.Path != "" && c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = time.Minute
	}

	c.Logging.ApplyDefaults()
	c.Generation.ApplyDefaults()
	c.Freshness.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Compose.ApplyDefaults()
	c.Ingest.NATS.ApplyDefaults()
	c.Ingest.FileWatch.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Embeddings.Provider {
	case "", "fastembed", "ollama":
	default:
		return fmt.Errorf("embeddings.provider unknown: %q", c.Embeddings.Provider)
	}
	if c.Freshness.ChurnRatio <= 0 || c.Freshness.ChurnRatio > 1 {
		return fmt.Errorf("freshness.churn_ratio must be in (0, 1]: %g", c.Freshness.ChurnRatio)
	}
	if c.Retrieval.ScoreFloor < 0 || c.Retrieval.ScoreFloor >= 1 {
		return fmt.Errorf("retrieval.score_floor must be in [0, 1): %g", c.Retrieval.ScoreFloor)
	}
	if c.Retrieval.MaxContext < 1 {
		return fmt.Errorf("retrieval.max_context must be positive: %d", c.Retrieval.MaxContext)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
