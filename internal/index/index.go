// Package index maintains the searchable embedding index over the live
// document set.
//
// The index is snapshot-based: searches read an atomically-loaded snapshot,
// incremental writes mutate the current snapshot under a writer mutex, and a
// full rebuild constructs a fresh snapshot off to the side and swaps it in
// atomically. In-flight searches complete against whichever snapshot they
// loaded, so a rebuild never blocks query handling.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/embeddings"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var tracer = otel.Tracer("skywatch.index")

// Sentinel errors for index operations.
var (
	// ErrNilDocument indicates a nil or empty-text document.
	ErrNilDocument = errors.New("nil or empty document")

	// ErrUnavailable indicates the index could not serve a search.
	ErrUnavailable = errors.New("index unavailable")

	// ErrRebuildFailed indicates an aborted rebuild; the previous snapshot
	// stays in service.
	ErrRebuildFailed = errors.New("index rebuild failed")
)

const liveCollection = "live"

// IndexEntry records the vector stored for a live document.
// Entries are owned exclusively by the index: exactly one per live
// document ID, removed on supersession or expiry.
type IndexEntry struct {
	DocumentID string
	Vector     []float32
	InsertedAt time.Time
}

// Result is a single search hit.
type Result struct {
	Doc   *document.Document
	Score float32
}

type record struct {
	doc   *document.Document
	entry IndexEntry
}

// snapshot is one consistent index version. The chromem collection handles
// its own locking; mu guards the record map shared with readers.
type snapshot struct {
	coll *chromem.Collection

	mu         sync.RWMutex
	recs       map[string]*record
	kindCounts map[document.Kind]int

	rebuiltAt time.Time
}

// Index is the embedding index over live documents.
type Index struct {
	embedder embeddings.Embedder
	fresh    *Freshness
	logger   *zap.Logger

	// mu serializes writers (upsert, remove, rebuild). Readers never
	// take it; they load the snapshot pointer.
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty index. fresh may be nil when no churn tracking is
// wanted (tests).
func New(embedder embeddings.Embedder, fresh *Freshness, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ix := &Index{
		embedder: embedder,
		fresh:    fresh,
		logger:   logger,
	}
	snap, err := ix.newSnapshot()
	if err != nil {
		return nil, err
	}
	ix.snap.Store(snap)
	return ix, nil
}

func (ix *Index) newSnapshot() (*snapshot, error) {
	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(liveCollection, nil, ix.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	return &snapshot{
		coll:       coll,
		recs:       make(map[string]*record),
		kindCounts: make(map[document.Kind]int),
		rebuiltAt:  timeNow().UTC(),
	}, nil
}

// embeddingFunc adapts the embedder for chromem. Vectors are always passed
// in precomputed, so this only runs if chromem ever needs to embed a raw
// query string itself.
func (ix *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.EmbedQuery(ctx, text)
	}
}

// Upsert computes an embedding for the document text and stores it,
// replacing any existing entry for the same ID. A push carrying an older
// timestamp than the live entry is stale and ignored. Returns the entry ID.
func (ix *Index) Upsert(ctx context.Context, doc *document.Document) (string, error) {
	ctx, span := tracer.Start(ctx, "Index.Upsert")
	defer span.End()

	if doc == nil || doc.Text == "" {
		return "", ErrNilDocument
	}
	span.SetAttributes(
		attribute.String("document.kind", string(doc.Kind)),
		attribute.String("document.id", doc.ID),
	)

	vectors, err := ix.embedder.EmbedDocuments(ctx, []string{doc.Text})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		UpsertsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	vector := vectors[0]

	ix.mu.Lock()
	defer ix.mu.Unlock()
	s := ix.snap.Load()

	s.mu.RLock()
	existing := s.recs[doc.ID]
	s.mu.RUnlock()

	if existing != nil && existing.doc.Supersedes(doc) {
		// Stale push for a natural key we already hold newer data for.
		ix.logger.Debug("ignoring stale upsert",
			zap.String("id", doc.ID),
			zap.Time("live", existing.doc.Timestamp),
			zap.Time("pushed", doc.Timestamp))
		UpsertsTotal.WithLabelValues("stale").Inc()
		return doc.ID, nil
	}

	if existing != nil {
		if err := s.coll.Delete(ctx, nil, nil, doc.ID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			UpsertsTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("replacing entry %s: %w", doc.ID, err)
		}
	}

	if err := collectionAdd(s, ctx, doc, vector); err != nil {
		if existing != nil {
			// The collection no longer holds the old entry; drop it from
			// the maps too, or Documents and Rebuild would resurrect a
			// record searches cannot see.
			s.mu.Lock()
			delete(s.recs, doc.ID)
			s.kindCounts[existing.doc.Kind]--
			size := len(s.recs)
			s.mu.Unlock()
			SizeGauge.Set(float64(size))
			if ix.fresh != nil {
				ix.fresh.RecordExpire(1)
			}
		}
		span.SetStatus(codes.Error, err.Error())
		UpsertsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	s.mu.Lock()
	if existing == nil {
		s.kindCounts[doc.Kind]++
	}
	s.recs[doc.ID] = &record{
		doc: doc,
		entry: IndexEntry{
			DocumentID: doc.ID,
			Vector:     vector,
			InsertedAt: timeNow().UTC(),
		},
	}
	size := len(s.recs)
	s.mu.Unlock()

	if ix.fresh != nil {
		ix.fresh.RecordAdd()
	}
	UpsertsTotal.WithLabelValues("ok").Inc()
	SizeGauge.Set(float64(size))
	return doc.ID, nil
}

// collectionAdd is swappable in tests to exercise insertion failures.
var collectionAdd = (*snapshot).addToCollection

func (s *snapshot) addToCollection(ctx context.Context, doc *document.Document, vector []float32) error {
	cdoc := chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: vector,
		Metadata:  map[string]string{"kind": string(doc.Kind)},
	}
	if err := s.coll.AddDocuments(ctx, []chromem.Document{cdoc}, 1); err != nil {
		return fmt.Errorf("adding document %s: %w", doc.ID, err)
	}
	return nil
}

// Remove deletes the entry for the given document ID. No-op if absent.
func (ix *Index) Remove(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Index.Remove")
	defer span.End()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	s := ix.snap.Load()

	s.mu.RLock()
	existing := s.recs[id]
	s.mu.RUnlock()
	if existing == nil {
		return nil
	}

	if err := s.coll.Delete(ctx, nil, nil, id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("removing entry %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.recs, id)
	s.kindCounts[existing.doc.Kind]--
	size := len(s.recs)
	s.mu.Unlock()

	if ix.fresh != nil {
		ix.fresh.RecordExpire(1)
	}
	RemovalsTotal.Inc()
	SizeGauge.Set(float64(size))
	return nil
}

// Search returns up to k documents nearest to queryVec, descending by
// score with ties broken by recency. When kinds are given, only documents
// of those kinds are considered. An empty index yields an empty result.
func (ix *Index) Search(ctx context.Context, queryVec []float32, k int, kinds ...document.Kind) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Index.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.Int("kind_filters", len(kinds)))

	if k <= 0 {
		k = 10
	}
	s := ix.snap.Load()
	SearchesTotal.Inc()

	var merged []Result
	if len(kinds) == 0 {
		hits, err := s.query(ctx, queryVec, k, "")
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		merged = hits
	} else {
		for _, kind := range kinds {
			hits, err := s.query(ctx, queryVec, k, kind)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			merged = append(merged, hits...)
		}
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// query runs one chromem similarity query, optionally filtered to a kind.
func (s *snapshot) query(ctx context.Context, queryVec []float32, k int, kind document.Kind) ([]Result, error) {
	s.mu.RLock()
	available := len(s.recs)
	if kind != "" {
		available = s.kindCounts[kind]
	}
	s.mu.RUnlock()

	if available == 0 {
		return nil, nil
	}
	if k > available {
		k = available
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{"kind": string(kind)}
	}

	hits, err := s.coll.QueryEmbedding(ctx, queryVec, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	results := make([]Result, 0, len(hits))
	s.mu.RLock()
	for _, hit := range hits {
		rec, ok := s.recs[hit.ID]
		if !ok {
			continue
		}
		results = append(results, Result{Doc: rec.doc, Score: hit.Similarity})
	}
	s.mu.RUnlock()
	return results, nil
}

// sortResults orders by score descending, ties broken by recency.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Doc.Timestamp.After(results[j].Doc.Timestamp)
	})
}

// Rebuild constructs a fresh snapshot from the given documents and swaps it
// in atomically. A per-document embedding failure is logged and skipped; a
// storage failure aborts the rebuild and keeps the prior snapshot serving.
func (ix *Index) Rebuild(ctx context.Context, docs []*document.Document) error {
	ctx, span := tracer.Start(ctx, "Index.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	start := timeNow()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	prior := ix.snap.Load()

	next, err := ix.newSnapshot()
	if err != nil {
		RebuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrRebuildFailed, err)
	}

	batch := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil || doc.Text == "" {
			continue
		}
		vector := prior.vectorFor(doc.ID)
		if vector == nil {
			vectors, err := ix.embedder.EmbedDocuments(ctx, []string{doc.Text})
			if err != nil {
				ix.logger.Warn("skipping document in rebuild: embedding failed",
					zap.String("id", doc.ID),
					zap.String("kind", string(doc.Kind)),
					zap.Error(err))
				EmbeddingFailuresTotal.Inc()
				continue
			}
			vector = vectors[0]
		}

		batch = append(batch, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Text,
			Embedding: vector,
			Metadata:  map[string]string{"kind": string(doc.Kind)},
		})
		next.recs[doc.ID] = &record{
			doc: doc,
			entry: IndexEntry{
				DocumentID: doc.ID,
				Vector:     vector,
				InsertedAt: timeNow().UTC(),
			},
		}
		next.kindCounts[doc.Kind]++
	}

	if len(batch) > 0 {
		if err := next.coll.AddDocuments(ctx, batch, 1); err != nil {
			span.SetStatus(codes.Error, err.Error())
			RebuildsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %v", ErrRebuildFailed, err)
		}
	}

	next.rebuiltAt = timeNow().UTC()
	ix.snap.Store(next)

	if ix.fresh != nil {
		ix.fresh.ResetAfterRebuild(next.rebuiltAt)
	}
	RebuildsTotal.WithLabelValues("ok").Inc()
	RebuildDuration.Observe(timeNow().Sub(start).Seconds())
	SizeGauge.Set(float64(len(next.recs)))

	ix.logger.Info("index rebuilt",
		zap.Int("documents", len(next.recs)),
		zap.Duration("took", timeNow().Sub(start)))
	return nil
}

func (s *snapshot) vectorFor(id string) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.recs[id]; ok {
		return rec.entry.Vector
	}
	return nil
}

// Documents returns the live document set.
func (ix *Index) Documents() []*document.Document {
	s := ix.snap.Load()
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*document.Document, 0, len(s.recs))
	for _, rec := range s.recs {
		docs = append(docs, rec.doc)
	}
	return docs
}

// Get returns the live document with the given ID.
func (ix *Index) Get(id string) (*document.Document, bool) {
	s := ix.snap.Load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, false
	}
	return rec.doc, true
}

// Size returns the number of live entries.
func (ix *Index) Size() int {
	s := ix.snap.Load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

// PerKindCounts returns live entry counts by kind.
func (ix *Index) PerKindCounts() map[document.Kind]int {
	s := ix.snap.Load()
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[document.Kind]int, len(s.kindCounts))
	for k, v := range s.kindCounts {
		if v > 0 {
			counts[k] = v
		}
	}
	return counts
}

// LastRebuild returns when the serving snapshot was built.
func (ix *Index) LastRebuild() time.Time {
	return ix.snap.Load().rebuiltAt
}
