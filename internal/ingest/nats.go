// Package ingest feeds raw source records into the engine. Each adapter
// owns one transport: NATS subjects for networked feeds and a file
// watcher for local decoder dumps. Adapters own the retry and drop
// decisions for records the normalizer rejects.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// Pusher is the slice of the engine ingestion needs.
type Pusher interface {
	Push(ctx context.Context, kind document.Kind, raw []byte) error
}

// NATSConfig configures the NATS ingestion adapter.
type NATSConfig struct {
	// URL of the NATS server. Default: nats://localhost:4222.
	URL string `koanf:"url"`

	// SubjectPrefix for ingestion subjects; one subject per kind, e.g.
	// skywatch.ingest.weather. Default: skywatch.ingest.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ApplyDefaults sets default values for unset fields.
func (c *NATSConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "skywatch.ingest"
	}
}

// NATSIngestor subscribes to one subject per document kind and pushes
// every message into the engine.
type NATSIngestor struct {
	nc       *nats.Conn
	pusher   Pusher
	config   NATSConfig
	logger   *zap.Logger
	subs     []*nats.Subscription
	ownsConn bool
}

// NewNATSIngestor connects to the configured server. The connection
// retries in the background, so a daemon can start before its broker.
func NewNATSIngestor(config NATSConfig, pusher Pusher, logger *zap.Logger) (*NATSIngestor, error) {
	config.ApplyDefaults()

	nc, err := nats.Connect(config.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", config.URL, err)
	}

	ing := NewNATSIngestorConn(nc, config, pusher, logger)
	ing.ownsConn = true
	return ing, nil
}

// NewNATSIngestorConn wraps an existing connection. The caller keeps
// ownership of the connection.
func NewNATSIngestorConn(nc *nats.Conn, config NATSConfig, pusher Pusher, logger *zap.Logger) *NATSIngestor {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSIngestor{
		nc:     nc,
		pusher: pusher,
		config: config,
		logger: logger,
	}
}

// Start subscribes to every kind subject. Message handling stops when
// ctx is canceled or Stop is called.
func (i *NATSIngestor) Start(ctx context.Context) error {
	for _, kind := range document.Kinds() {
		kind := kind
		subject := i.config.SubjectPrefix + "." + string(kind)
		sub, err := i.nc.Subscribe(subject, func(msg *nats.Msg) {
			i.handle(ctx, kind, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		i.subs = append(i.subs, sub)
	}

	i.logger.Info("NATS ingestion started",
		zap.String("url", i.nc.ConnectedUrl()),
		zap.String("subject_prefix", i.config.SubjectPrefix),
		zap.Int("subjects", len(i.subs)))
	return nil
}

func (i *NATSIngestor) handle(ctx context.Context, kind document.Kind, data []byte) {
	err := i.pusher.Push(ctx, kind, data)
	switch {
	case err == nil:
	case errors.Is(err, document.ErrValidation):
		// Malformed feed records are routine; drop and keep consuming.
		i.logger.Debug("dropped invalid record",
			zap.String("kind", string(kind)),
			zap.Error(err))
	default:
		i.logger.Warn("push failed",
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

// Stop drains the subscriptions and, when the ingestor owns the
// connection, closes it.
func (i *NATSIngestor) Stop() {
	for _, sub := range i.subs {
		if err := sub.Drain(); err != nil {
			i.logger.Warn("draining subscription", zap.Error(err))
		}
	}
	i.subs = nil
	if i.ownsConn {
		i.nc.Close()
	}
	i.logger.Info("NATS ingestion stopped")
}
