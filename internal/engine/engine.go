// Package engine wires the retrieval pipeline together and owns the two
// operations collaborators see: push and query.
//
// All internal failures are absorbed at the query boundary. Query never
// returns an error to its caller, only a possibly-degraded answer, so the
// front-ends stay responsive under partial data-source failure.
package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/compose"
	"github.com/kestrellabs/skywatch/internal/consistency"
	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/embeddings"
	"github.com/kestrellabs/skywatch/internal/generate"
	"github.com/kestrellabs/skywatch/internal/index"
	"github.com/kestrellabs/skywatch/internal/intent"
	"github.com/kestrellabs/skywatch/internal/retrieval"
)

var tracer = otel.Tracer("skywatch.engine")

// Status is the operational summary served to monitoring.
type Status struct {
	IndexSize     int                   `json:"index_size"`
	LastRebuildAt time.Time             `json:"last_rebuild_at"`
	PerKindCounts map[document.Kind]int `json:"per_kind_counts"`
	RuleVersion   string                `json:"rule_version"`
	StartedAt     time.Time             `json:"started_at"`
}

// Options configures a new engine.
type Options struct {
	Embedder  embeddings.Embedder
	Generator generate.Generator

	Freshness index.FreshnessConfig
	Rebuild   index.RebuilderConfig
	Retrieval retrieval.Config
	Compose   compose.Config

	// Rules defaults to the current built-in table when empty.
	Rules consistency.RuleTable

	Logger *zap.Logger
}

// Engine is the semantic retrieval and answer-composition core.
type Engine struct {
	normalizer *document.Normalizer
	classifier *intent.Classifier
	index      *index.Index
	fresh      *index.Freshness
	rebuilder  *index.Rebuilder
	retriever  *retrieval.Retriever
	validator  *consistency.Validator
	composer   *compose.Composer
	logger     *zap.Logger
	startedAt  time.Time
}

// New assembles the pipeline. The background rebuilder is created but not
// started; call Start.
func New(opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Rules.Rules) == 0 {
		opts.Rules = consistency.DefaultRuleTable()
	}

	fresh := index.NewFreshness(opts.Freshness)
	ix, err := index.New(opts.Embedder, fresh, logger.Named("index"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		normalizer: document.NewNormalizer(logger.Named("normalizer")),
		classifier: intent.NewClassifier(logger.Named("intent")),
		index:      ix,
		fresh:      fresh,
		rebuilder:  index.NewRebuilder(ix, fresh, &opts.Rebuild, logger.Named("rebuilder")),
		retriever:  retrieval.New(opts.Embedder, ix, opts.Retrieval, logger.Named("retrieval")),
		validator:  consistency.NewValidator(opts.Rules, logger.Named("consistency")),
		composer:   compose.New(opts.Generator, opts.Compose, logger.Named("compose")),
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}, nil
}

// Start launches background index maintenance.
func (e *Engine) Start(ctx context.Context) {
	e.rebuilder.Start(ctx)
}

// Stop halts background maintenance and waits for it to finish.
func (e *Engine) Stop() {
	e.rebuilder.Stop()
}

// Index exposes the embedding index for warm-restart snapshots.
func (e *Engine) Index() *index.Index {
	return e.index
}

// Push normalizes a raw record and upserts it into the index. A
// validation error means the record was dropped; the ingestion adapter
// owns retry and drop decisions.
func (e *Engine) Push(ctx context.Context, kind document.Kind, raw []byte) error {
	ctx, span := tracer.Start(ctx, "Engine.Push")
	defer span.End()

	doc, err := e.normalizer.Normalize(kind, raw)
	if err != nil {
		PushesTotal.WithLabelValues(string(kind), "invalid").Inc()
		return err
	}
	if _, err := e.index.Upsert(ctx, doc); err != nil {
		PushesTotal.WithLabelValues(string(kind), "error").Inc()
		return err
	}
	PushesTotal.WithLabelValues(string(kind), "ok").Inc()
	return nil
}

// QueryOptions carries optional per-request retrieval knobs. Zero values
// keep the configured defaults; requests can only tighten them.
type QueryOptions struct {
	MaxContext int
	ScoreFloor float64
}

// Query answers an operator question with default options.
func (e *Engine) Query(ctx context.Context, rawQuery string) *compose.Answer {
	return e.QueryWithOptions(ctx, rawQuery, QueryOptions{})
}

// QueryWithOptions answers an operator question. It never returns an
// error: index failures degrade to an insufficient-data answer and
// generation failures degrade to raw attributed context.
func (e *Engine) QueryWithOptions(ctx context.Context, rawQuery string, opts QueryOptions) *compose.Answer {
	ctx, span := tracer.Start(ctx, "Engine.Query")
	defer span.End()
	start := time.Now()

	in := e.classifier.Classify(rawQuery)

	items, err := e.retriever.Retrieve(ctx, in, retrieval.Bounds{
		MaxContext: opts.MaxContext,
		ScoreFloor: opts.ScoreFloor,
	})
	if err != nil {
		// IndexUnavailable: embedding or storage failed under us.
		e.logger.Error("retrieval failed, answering degraded", zap.Error(err))
		QueriesTotal.WithLabelValues("degraded").Inc()
		QueryDuration.Observe(time.Since(start).Seconds())
		return &compose.Answer{AnswerText: compose.InsufficientDataAnswer, Degraded: true}
	}

	items, conflicts := e.validator.Validate(items)
	answer := e.composer.Compose(ctx, rawQuery, items)

	switch {
	case answer.Degraded:
		QueriesTotal.WithLabelValues("degraded").Inc()
	case answer.UsedContext == 0:
		QueriesTotal.WithLabelValues("insufficient").Inc()
	default:
		QueriesTotal.WithLabelValues("ok").Inc()
	}
	QueryDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("query answered",
		zap.Int("used_context", answer.UsedContext),
		zap.Int("conflicts_resolved", len(conflicts)),
		zap.Bool("degraded", answer.Degraded),
		zap.Bool("rule_fired", in.RuleFired),
		zap.Duration("took", time.Since(start)))
	return answer
}

// Status reports the operational summary.
func (e *Engine) Status() Status {
	return Status{
		IndexSize:     e.index.Size(),
		LastRebuildAt: e.index.LastRebuild(),
		PerKindCounts: e.index.PerKindCounts(),
		RuleVersion:   e.validator.RuleVersion(),
		StartedAt:     e.startedAt,
	}
}
