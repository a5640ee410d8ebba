package index

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// RebuilderConfig configures the periodic maintenance loop.
type RebuilderConfig struct {
	// Interval between maintenance evaluations. Default: 15 seconds.
	Interval time.Duration

	// OnRebuild is called after each rebuild attempt with its outcome.
	OnRebuild func(err error)
}

// Rebuilder runs index maintenance in the background: each tick it expires
// documents past their TTL, then rebuilds the index if the freshness
// tracker says churn or elapsed time warrants it. This replaces blind
// fixed-interval reindexing; a quiet feed causes no rebuild work beyond
// the forced maximum interval.
type Rebuilder struct {
	index  *Index
	fresh  *Freshness
	config *RebuilderConfig
	logger *zap.Logger

	mu       sync.RWMutex
	lastErr  error
	lastEval time.Time
	running  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRebuilder creates a maintenance loop for the given index.
func NewRebuilder(ix *Index, fresh *Freshness, config *RebuilderConfig, logger *zap.Logger) *Rebuilder {
	if config == nil {
		config = &RebuilderConfig{}
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Rebuilder{
		index:  ix,
		fresh:  fresh,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the maintenance loop. Returns immediately; evaluation
// happens in a goroutine.
func (r *Rebuilder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("starting index rebuilder",
		zap.Duration("interval", r.config.Interval),
		zap.Float64("churn_ratio", r.fresh.Config().ChurnRatio),
		zap.Duration("max_rebuild_interval", r.fresh.Config().MaxRebuildInterval))

	go r.run(ctx)
}

// Stop halts the maintenance loop and waits for it to finish.
func (r *Rebuilder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.logger.Info("stopping index rebuilder")
	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// LastError returns the most recent rebuild error (if any).
func (r *Rebuilder) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// IsRunning returns true if the loop is active.
func (r *Rebuilder) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Rebuilder) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("index rebuilder stopped: context canceled")
			return
		case <-r.stopCh:
			r.logger.Info("index rebuilder stopped: stop requested")
			return
		case <-ticker.C:
			r.Evaluate(ctx)
		}
	}
}

// Evaluate runs one maintenance pass: TTL expiry, then a rebuild if due.
// Exported so callers can force a pass outside the ticker.
func (r *Rebuilder) Evaluate(ctx context.Context) {
	now := timeNow().UTC()
	expired := r.expire(ctx, now)

	r.mu.Lock()
	r.lastEval = now
	r.mu.Unlock()

	if !r.fresh.NeedsRebuild(r.index.Size(), now) {
		return
	}

	added, removed := r.fresh.Counters()
	r.logger.Debug("rebuild triggered",
		zap.Int("added_since_rebuild", added),
		zap.Int("expired_since_rebuild", removed),
		zap.Int("just_expired", expired),
		zap.Int("index_size", r.index.Size()))

	err := r.index.Rebuild(ctx, r.index.Documents())

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("index rebuild failed, prior snapshot retained", zap.Error(err))
	}
	if r.config.OnRebuild != nil {
		r.config.OnRebuild(err)
	}
}

// expire removes documents older than their kind's TTL and returns how
// many were dropped.
func (r *Rebuilder) expire(ctx context.Context, now time.Time) int {
	cfg := r.fresh.Config()

	var stale []*document.Document
	for _, doc := range r.index.Documents() {
		ttl := cfg.TTLFor(doc.Kind)
		if ttl <= 0 {
			continue
		}
		if now.Sub(doc.Timestamp) > ttl {
			stale = append(stale, doc)
		}
	}

	removed := 0
	for _, doc := range stale {
		if err := r.index.Remove(ctx, doc.ID); err != nil {
			r.logger.Warn("failed to expire document",
				zap.String("id", doc.ID),
				zap.String("kind", string(doc.Kind)),
				zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Debug("expired stale documents", zap.Int("count", removed))
	}
	return removed
}
