// Package retrieval turns a classified query into a bounded, scored
// context drawn from the embedding index.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/embeddings"
	"github.com/kestrellabs/skywatch/internal/index"
	"github.com/kestrellabs/skywatch/internal/intent"
)

var tracer = otel.Tracer("skywatch.retrieval")

// Config bounds the retrieved context.
type Config struct {
	// MaxContext caps how many documents a query may draw. Default: 12.
	MaxContext int `koanf:"max_context"`

	// ScoreFloor discards hits whose raw similarity falls below it, so
	// low-relevance noise never pads the context. Default: 0.25.
	ScoreFloor float64 `koanf:"score_floor"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxContext <= 0 {
		c.MaxContext = 12
	}
	if c.ScoreFloor <= 0 {
		c.ScoreFloor = 0.25
	}
}

// Bounds optionally narrows retrieval limits for a single query. Zero
// values keep the configured defaults. A request can tighten the limits
// but never widen them past configuration.
type Bounds struct {
	MaxContext int
	ScoreFloor float64
}

// Item is one retrieved document with its scores. Score is the intent-
// weighted rank key; Similarity is the raw cosine similarity the floor
// was applied to.
type Item struct {
	Doc        *document.Document
	Kind       document.Kind
	Score      float64
	Similarity float64
}

// Searcher is the slice of the embedding index the retriever needs.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, k int, kinds ...document.Kind) ([]index.Result, error)
}

// Retriever executes one similarity search per weighted target kind and
// merges the hits by score multiplied by kind weight.
type Retriever struct {
	embedder embeddings.Embedder
	searcher Searcher
	config   Config
	logger   *zap.Logger
}

// New creates a retriever over the given index.
func New(embedder embeddings.Embedder, searcher Searcher, config Config, logger *zap.Logger) *Retriever {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		config:   config,
		logger:   logger,
	}
}

// Retrieve embeds the query once, searches each target kind, and returns
// up to MaxContext items ordered by weighted score, ties broken by
// recency. An empty result is valid and not an error.
func (r *Retriever) Retrieve(ctx context.Context, in intent.Intent, bounds Bounds) ([]Item, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("target_kinds", len(in.Targets)))

	maxContext, scoreFloor := r.effectiveBounds(bounds)

	queryVec, err := r.embedder.EmbedQuery(ctx, in.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var items []Item
	for _, target := range in.Targets {
		if target.Weight <= 0 {
			continue
		}
		hits, err := r.searcher.Search(ctx, queryVec, maxContext, target.Kind)
		if err != nil {
			return nil, fmt.Errorf("searching kind %s: %w", target.Kind, err)
		}
		for _, hit := range hits {
			similarity := float64(hit.Score)
			if similarity < scoreFloor {
				continue
			}
			items = append(items, Item{
				Doc:        hit.Doc,
				Kind:       hit.Doc.Kind,
				Score:      similarity * target.Weight,
				Similarity: similarity,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Doc.Timestamp.After(items[j].Doc.Timestamp)
	})
	if len(items) > maxContext {
		items = items[:maxContext]
	}

	r.logger.Debug("retrieved context",
		zap.Int("items", len(items)),
		zap.Bool("rule_fired", in.RuleFired))
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

func (r *Retriever) effectiveBounds(b Bounds) (int, float64) {
	maxContext := r.config.MaxContext
	if b.MaxContext > 0 && b.MaxContext < maxContext {
		maxContext = b.MaxContext
	}
	scoreFloor := r.config.ScoreFloor
	if b.ScoreFloor > scoreFloor {
		scoreFloor = b.ScoreFloor
	}
	return maxContext, scoreFloor
}
