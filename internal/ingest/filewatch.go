package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// FileWatchConfig configures the local decoder-dump watcher.
type FileWatchConfig struct {
	// AircraftJSONPath is a dump1090-style aircraft.json file, rewritten
	// in place by the decoder every second or so. Empty disables it.
	AircraftJSONPath string `koanf:"aircraft_json_path"`

	// TranscriptPath is a JSON-lines file of decoded transmissions,
	// appended to by the decoder. Empty disables it.
	TranscriptPath string `koanf:"transcript_path"`

	// Debounce collapses the bursts of write events a single file
	// rewrite produces. Default: 500ms.
	Debounce time.Duration `koanf:"debounce"`
}

// ApplyDefaults sets default values for unset fields.
func (c *FileWatchConfig) ApplyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// aircraftDump is the dump1090 aircraft.json envelope.
type aircraftDump struct {
	Now      float64                  `json:"now"`
	Aircraft []map[string]interface{} `json:"aircraft"`
}

// FileWatcher pushes records from decoder dump files. The aircraft file
// is re-read whole on every rewrite; the transcript file is read from
// the last consumed offset so appended lines are pushed exactly once.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	pusher  Pusher
	config  FileWatchConfig
	logger  *zap.Logger

	mu               sync.Mutex
	lastHandled      map[string]time.Time
	transcriptOffset int64
	transcriptSeq    int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewFileWatcher watches the directories of the configured files. At
// least one path must be set.
func NewFileWatcher(config FileWatchConfig, pusher Pusher, logger *zap.Logger) (*FileWatcher, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AircraftJSONPath == "" && config.TranscriptPath == "" {
		return nil, errors.New("file watcher needs at least one path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	// Watch directories, not files: decoders rewrite via rename, which
	// drops a watch placed on the file itself.
	dirs := map[string]bool{}
	for _, path := range []string{config.AircraftJSONPath, config.TranscriptPath} {
		if path == "" {
			continue
		}
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	return &FileWatcher{
		watcher:     watcher,
		pusher:      pusher,
		config:      config,
		logger:      logger,
		lastHandled: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start consumes existing file contents, then follows changes until ctx
// is canceled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) {
	if w.config.AircraftJSONPath != "" {
		w.consumeAircraft(ctx)
	}
	if w.config.TranscriptPath != "" {
		w.consumeTranscript(ctx)
	}

	go w.run(ctx)
	w.logger.Info("file watcher started",
		zap.String("aircraft", w.config.AircraftJSONPath),
		zap.String("transcript", w.config.TranscriptPath))
}

// Stop halts the watcher and waits for it to finish.
func (w *FileWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
	w.logger.Info("file watcher stopped")
}

func (w *FileWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			w.dispatch(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *FileWatcher) dispatch(ctx context.Context, path string) {
	if !w.debounced(path) {
		return
	}
	switch path {
	case w.config.AircraftJSONPath:
		w.consumeAircraft(ctx)
	case w.config.TranscriptPath:
		w.consumeTranscript(ctx)
	}
}

// debounced reports whether enough time has passed since the last event
// for this path.
func (w *FileWatcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.lastHandled[path]; ok && now.Sub(last) < w.config.Debounce {
		return false
	}
	w.lastHandled[path] = now
	return true
}

// consumeAircraft reads the whole dump and pushes one record per
// aircraft. Supersession makes repeated reads idempotent.
func (w *FileWatcher) consumeAircraft(ctx context.Context) {
	data, err := os.ReadFile(w.config.AircraftJSONPath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("reading aircraft dump", zap.Error(err))
		}
		return
	}

	var dump aircraftDump
	if err := json.Unmarshal(data, &dump); err != nil {
		// Rewrites race with reads; a torn file resolves on the next event.
		w.logger.Debug("aircraft dump not parseable yet", zap.Error(err))
		return
	}

	pushed := 0
	for _, entry := range dump.Aircraft {
		if dump.Now > 0 {
			if _, ok := entry["timestamp"]; !ok {
				entry["timestamp"] = dump.Now
			}
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if err := w.pusher.Push(ctx, document.KindAircraftState, raw); err != nil {
			if !errors.Is(err, document.ErrValidation) {
				w.logger.Warn("aircraft push failed", zap.Error(err))
			}
			continue
		}
		pushed++
	}
	w.logger.Debug("consumed aircraft dump",
		zap.Int("aircraft", len(dump.Aircraft)),
		zap.Int("pushed", pushed))
}

// consumeTranscript pushes lines appended since the last read. A
// shrinking file means the decoder rotated it; reading restarts from the
// top. The offset only advances over newline-terminated lines, so a
// half-written trailing line stays unconsumed until the decoder
// completes it.
func (w *FileWatcher) consumeTranscript(ctx context.Context) {
	f, err := os.Open(w.config.TranscriptPath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("opening transcript file", zap.Error(err))
		}
		return
	}
	defer f.Close()

	w.mu.Lock()
	offset := w.transcriptOffset
	w.mu.Unlock()

	info, err := f.Stat()
	if err != nil {
		w.logger.Warn("stat transcript file", zap.Error(err))
		return
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		w.logger.Warn("seeking transcript file", zap.Error(err))
		return
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	consumed := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.Warn("reading transcript file", zap.Error(err))
			}
			break
		}
		consumed += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			w.logger.Debug("skipping malformed transcript line", zap.Error(err))
			continue
		}
		w.mu.Lock()
		w.transcriptSeq++
		rec["sequence"] = strconv.Itoa(w.transcriptSeq)
		w.mu.Unlock()

		raw, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := w.pusher.Push(ctx, document.KindTranscript, raw); err != nil {
			if !errors.Is(err, document.ErrValidation) {
				w.logger.Warn("transcript push failed", zap.Error(err))
			}
		}
	}

	w.mu.Lock()
	w.transcriptOffset = consumed
	w.mu.Unlock()
}
