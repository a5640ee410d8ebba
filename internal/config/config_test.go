package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrellabs/skywatch/internal/document"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 12, cfg.Retrieval.MaxContext)
	assert.InDelta(t, 0.25, cfg.Retrieval.ScoreFloor, 1e-9)
	assert.InDelta(t, 0.3, cfg.Freshness.ChurnRatio, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Freshness.MaxRebuildInterval)
	assert.Equal(t, 15*time.Second, cfg.Rebuild.CheckInterval)
	assert.Equal(t, "skywatch.ingest", cfg.Ingest.NATS.SubjectPrefix)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
retrieval:
  max_context: 6
  score_floor: 0.4
freshness:
  churn_ratio: 0.5
  ttl:
    aircraft_state: 90s
    notice: 30m
generation:
  model: mistral
  timeout: 5s
ingest:
  nats_enabled: true
  nats:
    url: nats://broker:4222
snapshot:
  path: /var/lib/skywatch/snapshot.jsonl
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Retrieval.MaxContext)
	assert.InDelta(t, 0.4, cfg.Retrieval.ScoreFloor, 1e-9)
	assert.InDelta(t, 0.5, cfg.Freshness.ChurnRatio, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Freshness.TTL[document.KindAircraftState])
	assert.Equal(t, 30*time.Minute, cfg.Freshness.TTL[document.KindNotice])
	assert.Equal(t, "mistral", cfg.Generation.Model)
	assert.Equal(t, 5*time.Second, cfg.Generation.Timeout)
	assert.True(t, cfg.Ingest.NATSEnabled)
	assert.Equal(t, "nats://broker:4222", cfg.Ingest.NATS.URL)
	assert.Equal(t, time.Minute, cfg.Snapshot.Interval,
		"a configured snapshot path gets a default write interval")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")

	t.Setenv("SKYWATCH_SERVER_PORT", "7070")
	t.Setenv("SKYWATCH_GENERATION_MODEL", "phi3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "phi3", cfg.Generation.Model)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad churn ratio", "freshness:\n  churn_ratio: 1.5\n"},
		{"bad score floor", "retrieval:\n  score_floor: 1.0\n"},
		{"bad provider", "embeddings:\n  provider: tei\n"},
		{"bad log level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
