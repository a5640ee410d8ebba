package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type recordingPusher struct {
	mu       sync.Mutex
	pushes   []pushedRecord
	attempts int
	err      error
}

type pushedRecord struct {
	kind document.Kind
	raw  string
}

func (p *recordingPusher) Push(_ context.Context, kind document.Kind, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.pushes = append(p.pushes, pushedRecord{kind: kind, raw: string(raw)})
	return nil
}

func (p *recordingPusher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func (p *recordingPusher) byKind(kind document.Kind) []pushedRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushedRecord
	for _, rec := range p.pushes {
		if rec.kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func TestNATSIngestorRoutesSubjectsToKinds(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pusher := &recordingPusher{}
	ing := NewNATSIngestorConn(nc, NATSConfig{}, pusher, zap.NewNop())
	require.NoError(t, ing.Start(t.Context()))
	defer ing.Stop()

	require.NoError(t, nc.Publish("skywatch.ingest.weather", []byte(`{"station":"EGPK"}`)))
	require.NoError(t, nc.Publish("skywatch.ingest.aircraft_state", []byte(`{"hex":"4008f5"}`)))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool { return pusher.count() == 2 },
		2*time.Second, 10*time.Millisecond)

	weather := pusher.byKind(document.KindWeather)
	require.Len(t, weather, 1)
	assert.JSONEq(t, `{"station":"EGPK"}`, weather[0].raw)
	assert.Len(t, pusher.byKind(document.KindAircraftState), 1)
}

func TestNATSIngestorIgnoresUnrelatedSubjects(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pusher := &recordingPusher{}
	ing := NewNATSIngestorConn(nc, NATSConfig{SubjectPrefix: "custom.feed"}, pusher, zap.NewNop())
	require.NoError(t, ing.Start(t.Context()))
	defer ing.Stop()

	require.NoError(t, nc.Publish("skywatch.ingest.weather", []byte(`{"station":"EGPK"}`)))
	require.NoError(t, nc.Publish("custom.feed.vessel", []byte(`{"mmsi":"232001234"}`)))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool { return pusher.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Len(t, pusher.byKind(document.KindVessel), 1)
}

func TestNATSIngestorSurvivesInvalidRecords(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pusher := &recordingPusher{err: document.ErrValidation}
	ing := NewNATSIngestorConn(nc, NATSConfig{}, pusher, zap.NewNop())
	require.NoError(t, ing.Start(t.Context()))
	defer ing.Stop()

	require.NoError(t, nc.Publish("skywatch.ingest.notice", []byte(`garbage`)))
	require.NoError(t, nc.Flush())
	require.Eventually(t, func() bool { return pusher.attemptCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// The subscription keeps consuming after a validation drop.
	pusher.mu.Lock()
	pusher.err = nil
	pusher.mu.Unlock()
	require.NoError(t, nc.Publish("skywatch.ingest.notice", []byte(`{"id":"n1","text":"ok"}`)))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool { return pusher.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherAircraftDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aircraft.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"now":1755950000.0,"aircraft":[{"hex":"4008f5","alt_baro":3200},{"hex":"4ca1d2","alt_baro":37000}]}`), 0o644))

	pusher := &recordingPusher{}
	w, err := NewFileWatcher(FileWatchConfig{AircraftJSONPath: path, Debounce: time.Millisecond}, pusher, zap.NewNop())
	require.NoError(t, err)

	w.Start(t.Context())
	defer w.Stop()

	// Existing contents are consumed at startup.
	require.Eventually(t, func() bool {
		return len(pusher.byKind(document.KindAircraftState)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, pusher.byKind(document.KindAircraftState)[0].raw, "timestamp",
		"the dump timestamp is stamped onto each aircraft record")

	// A rewrite is picked up via the directory watch.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"now":1755950001.0,"aircraft":[{"hex":"4008f5","alt_baro":3400}]}`), 0o644))
	require.Eventually(t, func() bool {
		return len(pusher.byKind(document.KindAircraftState)) >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherTranscriptAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdl2.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"channel":"tower","text":"cleared to land runway 23"}`+"\n"), 0o644))

	pusher := &recordingPusher{}
	w, err := NewFileWatcher(FileWatchConfig{TranscriptPath: path, Debounce: time.Millisecond}, pusher, zap.NewNop())
	require.NoError(t, err)

	w.Start(t.Context())
	defer w.Stop()

	require.Eventually(t, func() bool {
		return len(pusher.byKind(document.KindTranscript)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"channel":"tower","text":"go around"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(pusher.byKind(document.KindTranscript)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs := pusher.byKind(document.KindTranscript)
	assert.Contains(t, recs[0].raw, `"sequence":"1"`)
	assert.Contains(t, recs[1].raw, `"sequence":"2"`)
	assert.Contains(t, recs[1].raw, "go around",
		"only the appended line is pushed, not a re-read of the whole file")
}

func TestFileWatcherTranscriptPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdl2.jsonl")

	// A complete line plus the front half of the next transmission, still
	// being written by the decoder.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"channel":"tower","text":"first call"}`+"\n"+`{"channel":"tower","te`), 0o644))

	pusher := &recordingPusher{}
	w, err := NewFileWatcher(FileWatchConfig{TranscriptPath: path, Debounce: time.Millisecond}, pusher, zap.NewNop())
	require.NoError(t, err)
	defer w.watcher.Close()

	w.consumeTranscript(t.Context())
	recs := pusher.byKind(document.KindTranscript)
	require.Len(t, recs, 1, "a half-written line is not consumed")
	assert.Contains(t, recs[0].raw, "first call")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`xt":"second call"}` + "\n" + `{"channel":"tower","text":"third call"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w.consumeTranscript(t.Context())
	recs = pusher.byKind(document.KindTranscript)
	require.Len(t, recs, 3, "the completed line is picked up, nothing re-read")
	assert.Contains(t, recs[1].raw, "second call")
	assert.Contains(t, recs[1].raw, `"sequence":"2"`)
	assert.Contains(t, recs[2].raw, "third call")
	assert.Contains(t, recs[2].raw, `"sequence":"3"`)
}

func TestFileWatcherRequiresAPath(t *testing.T) {
	_, err := NewFileWatcher(FileWatchConfig{}, &recordingPusher{}, zap.NewNop())
	require.Error(t, err)
}
