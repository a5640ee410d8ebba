// Skywatchd is a semantic retrieval daemon for live aviation data.
//
// It ingests heterogeneous observations (aircraft state, weather, notices,
// radio transcripts, vessel positions), maintains an embedding index over
// them, and answers natural-language operator queries over HTTP.
//
// Usage:
//
//	# Start with defaults
//	skywatchd
//
//	# Point at a config file
//	skywatchd --config /etc/skywatch/config.yaml
//
//	# Configure via environment
//	SKYWATCH_SERVER_PORT=9090 SKYWATCH_EMBEDDINGS_PROVIDER=ollama skywatchd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/config"
	"github.com/kestrellabs/skywatch/internal/embeddings"
	"github.com/kestrellabs/skywatch/internal/engine"
	"github.com/kestrellabs/skywatch/internal/generate"
	skyhttp "github.com/kestrellabs/skywatch/internal/http"
	"github.com/kestrellabs/skywatch/internal/index"
	"github.com/kestrellabs/skywatch/internal/ingest"
	"github.com/kestrellabs/skywatch/internal/logging"
	"github.com/kestrellabs/skywatch/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  skywatchd           Start the skywatch daemon\n")
			fmt.Fprintf(os.Stderr, "  skywatchd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("skywatchd by Kestrel Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the skywatch daemon and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the structured logger
//  3. Creates the embedding provider and answer generator
//  4. Assembles the retrieval engine, restoring a warm-restart
//     snapshot when one is configured
//  5. Starts ingestion adapters (NATS, file watcher) when enabled
//  6. Serves the HTTP API until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting skywatchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	if tel.IsEnabled() {
		logger.Info("Telemetry enabled",
			zap.String("endpoint", cfg.Telemetry.Endpoint),
			zap.String("service", cfg.Telemetry.ServiceName))
	}

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer embedder.Close()

	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", embedder.Dimension()))

	generator, err := generate.NewOllamaGenerator(cfg.Generation, logger.Named("generate"))
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Embedder:  embedder,
		Generator: generator,
		Freshness: cfg.Freshness,
		Rebuild:   index.RebuilderConfig{Interval: cfg.Rebuild.CheckInterval},
		Retrieval: cfg.Retrieval,
		Compose:   cfg.Compose,
		Logger:    logger.Named("engine"),
	})
	if err != nil {
		return fmt.Errorf("failed to assemble engine: %w", err)
	}

	if cfg.Snapshot.Path != "" {
		n, err := eng.LoadSnapshot(ctx, cfg.Snapshot.Path)
		if err != nil {
			logger.Warn("Snapshot restore failed, starting cold",
				zap.String("path", cfg.Snapshot.Path),
				zap.Error(err))
		} else if n > 0 {
			logger.Info("Snapshot restored",
				zap.String("path", cfg.Snapshot.Path),
				zap.Int("documents", n))
		}
	}

	eng.Start(ctx)
	defer eng.Stop()

	if cfg.Snapshot.Path != "" {
		go snapshotLoop(ctx, eng, cfg.Snapshot, logger)
		defer func() {
			if err := eng.SaveSnapshot(cfg.Snapshot.Path); err != nil {
				logger.Warn("Final snapshot write failed", zap.Error(err))
			}
		}()
	}

	if cfg.Ingest.NATSEnabled {
		ingestor, err := ingest.NewNATSIngestor(cfg.Ingest.NATS, eng, logger.Named("ingest.nats"))
		if err != nil {
			return fmt.Errorf("failed to connect NATS ingestor: %w", err)
		}
		if err := ingestor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start NATS ingestor: %w", err)
		}
		defer ingestor.Stop()

		logger.Info("NATS ingestor started",
			zap.String("url", cfg.Ingest.NATS.URL),
			zap.String("subject_prefix", cfg.Ingest.NATS.SubjectPrefix))
	}

	if cfg.Ingest.FileWatch.AircraftJSONPath != "" || cfg.Ingest.FileWatch.TranscriptPath != "" {
		watcher, err := ingest.NewFileWatcher(cfg.Ingest.FileWatch, eng, logger.Named("ingest.filewatch"))
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv, err := skyhttp.NewServer(eng, logger.Named("http"), &skyhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// snapshotLoop writes the warm-restart snapshot on a fixed cadence. A
// final write also happens on shutdown, so a missed tick at exit is fine.
func snapshotLoop(ctx context.Context, eng *engine.Engine, cfg config.SnapshotConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.SaveSnapshot(cfg.Path); err != nil {
				logger.Warn("Snapshot write failed",
					zap.String("path", cfg.Path),
					zap.Error(err))
			}
		}
	}
}
