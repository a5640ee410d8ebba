package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// snapshotRecord is one self-describing document line in a warm-restart
// snapshot file.
type snapshotRecord struct {
	Kind       document.Kind  `json:"kind"`
	ID         string         `json:"id"`
	NaturalKey string         `json:"natural_key"`
	Timestamp  time.Time      `json:"timestamp"`
	Text       string         `json:"text"`
	Fields     map[string]any `json:"fields,omitempty"`
	SourceRef  string         `json:"source_ref,omitempty"`
}

// SaveSnapshot writes the live document set as an ordered list of JSON
// lines, oldest first. The write is atomic: a temp file in the same
// directory is renamed over the target.
func (e *Engine) SaveSnapshot(path string) error {
	docs := e.index.Documents()
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Timestamp.Equal(docs[j].Timestamp) {
			return docs[i].Timestamp.Before(docs[j].Timestamp)
		}
		return docs[i].ID < docs[j].ID
	})

	tmp, err := os.CreateTemp(filepath.Dir(path), ".skywatch-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, doc := range docs {
		rec := snapshotRecord{
			Kind:       doc.Kind,
			ID:         doc.ID,
			NaturalKey: doc.NaturalKey,
			Timestamp:  doc.Timestamp,
			Text:       doc.Text,
			Fields:     doc.Fields,
			SourceRef:  doc.SourceRef,
		}
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding snapshot record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}

	e.logger.Info("wrote warm-restart snapshot",
		zap.String("path", path),
		zap.Int("documents", len(docs)))
	return nil
}

// LoadSnapshot restores documents from a warm-restart snapshot, returning
// how many were loaded. A missing file is not an error; a malformed line
// is logged and skipped. Documents re-embed on the way in, so stale lines
// for a natural key are superseded by later ones in file order.
func (e *Engine) LoadSnapshot(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			e.logger.Warn("skipping malformed snapshot line", zap.Error(err))
			continue
		}
		if rec.ID == "" || rec.Text == "" || !rec.Kind.Valid() {
			e.logger.Warn("skipping incomplete snapshot record", zap.String("id", rec.ID))
			continue
		}
		doc := &document.Document{
			ID:         rec.ID,
			Kind:       rec.Kind,
			NaturalKey: rec.NaturalKey,
			Timestamp:  rec.Timestamp,
			Text:       rec.Text,
			Fields:     rec.Fields,
			SourceRef:  rec.SourceRef,
		}
		if _, err := e.index.Upsert(ctx, doc); err != nil {
			e.logger.Warn("skipping snapshot record: upsert failed",
				zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("reading snapshot: %w", err)
	}

	e.logger.Info("loaded warm-restart snapshot",
		zap.String("path", path),
		zap.Int("documents", loaded))
	return loaded, nil
}
