package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/compose"
	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/engine"
)

type stubEngine struct {
	pushErr    error
	answer     *compose.Answer
	status     engine.Status
	lastKind   document.Kind
	lastRaw    string
	lastQuery  string
	lastOpts   engine.QueryOptions
	pushCalls  int
	queryCalls int
}

func (s *stubEngine) Push(_ context.Context, kind document.Kind, raw []byte) error {
	s.pushCalls++
	s.lastKind = kind
	s.lastRaw = string(raw)
	return s.pushErr
}

func (s *stubEngine) QueryWithOptions(_ context.Context, rawQuery string, opts engine.QueryOptions) *compose.Answer {
	s.queryCalls++
	s.lastQuery = rawQuery
	s.lastOpts = opts
	if s.answer != nil {
		return s.answer
	}
	return &compose.Answer{AnswerText: compose.InsufficientDataAnswer}
}

func (s *stubEngine) Status() engine.Status {
	return s.status
}

func newTestServer(t *testing.T, eng *stubEngine) *Server {
	t.Helper()
	s, err := NewServer(eng, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresEngineAndLogger(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(&stubEngine{}, nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestQuery(t *testing.T) {
	eng := &stubEngine{answer: &compose.Answer{
		AnswerText: "EZY1234 is airborne.",
		Attributions: []compose.Attribution{
			{DocumentID: "doc-1", Kind: document.KindAircraftState},
		},
		UsedContext: 1,
	}}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"is EZY1234 airborne"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "is EZY1234 airborne", eng.lastQuery)

	var answer compose.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, "EZY1234 is airborne.", answer.AnswerText)
	require.Len(t, answer.Attributions, 1)
	assert.Equal(t, document.KindAircraftState, answer.Attributions[0].Kind)
	assert.False(t, answer.Degraded)
}

func TestQueryForwardsRetrievalKnobs(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"traffic near EGPK","max_context":4,"score_floor":0.5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, eng.lastOpts.MaxContext)
	assert.InDelta(t, 0.5, eng.lastOpts.ScoreFloor, 1e-9)
}

func TestQueryRequiresBody(t *testing.T) {
	s := newTestServer(t, &stubEngine{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPush(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/push/weather",
		strings.NewReader(`{"station":"EGPK"}`))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, document.KindWeather, eng.lastKind)
	assert.JSONEq(t, `{"station":"EGPK"}`, eng.lastRaw)
}

func TestPushUnknownKind(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/push/balloon",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, eng.pushCalls)
}

func TestPushValidationError(t *testing.T) {
	eng := &stubEngine{pushErr: document.ErrValidation}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/push/weather",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	eng := &stubEngine{status: engine.Status{
		IndexSize:     42,
		PerKindCounts: map[document.Kind]int{document.KindWeather: 2},
		RuleVersion:   "v1",
	}}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 42, status.IndexSize)
	assert.Equal(t, "v1", status.RuleVersion)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
