package index

import (
	"sync"
	"time"

	"github.com/kestrellabs/skywatch/internal/document"
)

// FreshnessConfig controls when the index is considered stale enough to
// rebuild and how long documents of each kind stay live.
type FreshnessConfig struct {
	// ChurnRatio triggers a rebuild once (added+expired)/size exceeds it.
	// Default: 0.3.
	ChurnRatio float64 `koanf:"churn_ratio"`

	// MaxRebuildInterval forces a rebuild after this much time regardless
	// of churn. Default: 5m.
	MaxRebuildInterval time.Duration `koanf:"max_rebuild_interval"`

	// DefaultTTL is how long a document stays live without being
	// superseded. Default: 10m. Zero or negative disables expiry.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	// TTL overrides DefaultTTL per kind. Fast-moving kinds like aircraft
	// state typically carry a much shorter TTL than notices.
	TTL map[document.Kind]time.Duration `koanf:"ttl"`
}

// ApplyDefaults sets default values for unset fields.
func (c *FreshnessConfig) ApplyDefaults() {
	if c.ChurnRatio <= 0 {
		c.ChurnRatio = 0.3
	}
	if c.MaxRebuildInterval <= 0 {
		c.MaxRebuildInterval = 5 * time.Minute
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
}

// TTLFor returns the live window for a kind.
func (c FreshnessConfig) TTLFor(kind document.Kind) time.Duration {
	if ttl, ok := c.TTL[kind]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// Freshness tracks index churn since the last rebuild and decides when a
// rebuild is due. All methods are safe for concurrent use.
type Freshness struct {
	cfg FreshnessConfig

	mu          sync.Mutex
	added       int
	expired     int
	lastRebuild time.Time
}

// NewFreshness creates a tracker with the clock starting now.
func NewFreshness(cfg FreshnessConfig) *Freshness {
	cfg.ApplyDefaults()
	return &Freshness{
		cfg:         cfg,
		lastRebuild: timeNow().UTC(),
	}
}

// Config returns the effective configuration.
func (f *Freshness) Config() FreshnessConfig {
	return f.cfg
}

// RecordAdd notes one document added or replaced since the last rebuild.
func (f *Freshness) RecordAdd() {
	f.mu.Lock()
	f.added++
	f.mu.Unlock()
}

// RecordExpire notes n documents removed since the last rebuild.
func (f *Freshness) RecordExpire(n int) {
	f.mu.Lock()
	f.expired += n
	f.mu.Unlock()
}

// Counters returns documents added and expired since the last rebuild.
func (f *Freshness) Counters() (added, expired int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.added, f.expired
}

// LastRebuild returns when the tracker was last reset.
func (f *Freshness) LastRebuild() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRebuild
}

// NeedsRebuild reports whether churn or elapsed time warrants a rebuild of
// an index currently holding size entries.
func (f *Freshness) NeedsRebuild(size int, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastRebuild) >= f.cfg.MaxRebuildInterval {
		return true
	}
	churn := f.added + f.expired
	if churn == 0 {
		return false
	}
	if size == 0 {
		// Everything that was indexed has expired; rebuild to drop
		// the stale snapshot structures.
		return true
	}
	return float64(churn)/float64(size) > f.cfg.ChurnRatio
}

// ResetAfterRebuild zeroes the churn counters and restarts the interval
// clock from the given rebuild time.
func (f *Freshness) ResetAfterRebuild(at time.Time) {
	f.mu.Lock()
	f.added = 0
	f.expired = 0
	f.lastRebuild = at
	f.mu.Unlock()
}
