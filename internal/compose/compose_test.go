package compose

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/generate"
	"github.com/kestrellabs/skywatch/internal/retrieval"
)

type stubGenerator struct {
	answer  string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func mkItem(kind document.Kind, key, text string) retrieval.Item {
	return retrieval.Item{
		Doc: &document.Document{
			ID:         document.DeterministicID(kind, key),
			Kind:       kind,
			NaturalKey: key,
			Timestamp:  time.Now().UTC(),
			Text:       text,
		},
		Kind:  kind,
		Score: 0.5,
	}
}

func TestComposeHappyPath(t *testing.T) {
	gen := &stubGenerator{answer: "EZY1234 is squawking 7700 at 3200 ft."}
	c := New(gen, Config{}, zap.NewNop())

	items := []retrieval.Item{
		mkItem(document.KindAircraftState, "4008f5", "Aircraft EZY1234 squawk 7700"),
		mkItem(document.KindTranscript, "twr#1", "EZY1234 declaring emergency"),
	}
	answer := c.Compose(t.Context(), "who is squawking 7700", items)

	assert.Equal(t, "EZY1234 is squawking 7700 at 3200 ft.", answer.AnswerText)
	assert.False(t, answer.Degraded)
	assert.Equal(t, 2, answer.UsedContext)
	require.Len(t, answer.Attributions, 2)
	assert.Equal(t, items[0].Doc.ID, answer.Attributions[0].DocumentID)
	assert.Equal(t, document.KindAircraftState, answer.Attributions[0].Kind)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "who is squawking 7700")
	assert.Contains(t, gen.prompts[0], "Aircraft EZY1234 squawk 7700")
}

func TestComposeEmptyContextSkipsGeneration(t *testing.T) {
	gen := &stubGenerator{answer: "should never be used"}
	c := New(gen, Config{}, zap.NewNop())

	answer := c.Compose(t.Context(), "anything", nil)

	assert.Equal(t, InsufficientDataAnswer, answer.AnswerText)
	assert.False(t, answer.Degraded)
	assert.Zero(t, answer.UsedContext)
	assert.Empty(t, answer.Attributions)
	assert.Empty(t, gen.prompts, "generation is not invoked without context")
}

func TestComposeDegradedOnTimeout(t *testing.T) {
	gen := &stubGenerator{err: generate.ErrTimeout}
	c := New(gen, Config{}, zap.NewNop())

	items := []retrieval.Item{mkItem(document.KindWeather, "egpk", "EGPK wind 230 at 15 kt")}
	answer := c.Compose(t.Context(), "weather at EGPK", items)

	assert.True(t, answer.Degraded)
	assert.Contains(t, answer.AnswerText, "EGPK wind 230 at 15 kt",
		"degraded answers carry the raw attributed context")
	require.Len(t, answer.Attributions, 1)
	assert.Equal(t, 1, answer.UsedContext)
}

func TestComposeDegradedOnUnavailable(t *testing.T) {
	gen := &stubGenerator{err: generate.ErrUnavailable}
	c := New(gen, Config{}, zap.NewNop())

	items := []retrieval.Item{mkItem(document.KindNotice, "egpf/1", "EGPF taxiway closed")}
	answer := c.Compose(t.Context(), "any notams", items)

	assert.True(t, answer.Degraded)
	assert.NotEmpty(t, answer.Attributions)
}

func TestComposeTruncatesLowestRankedFirst(t *testing.T) {
	gen := &stubGenerator{answer: "ok"}
	c := New(gen, Config{PromptBudget: 150}, zap.NewNop())

	items := []retrieval.Item{
		mkItem(document.KindWeather, "egpk", "best ranked observation about wind"),
		mkItem(document.KindWeather, "egpf", "second ranked observation about cloud"),
		mkItem(document.KindWeather, "egcc", "third ranked observation about visibility"),
	}
	answer := c.Compose(t.Context(), "weather", items)

	assert.Less(t, answer.UsedContext, 3, "budget forces truncation")
	assert.GreaterOrEqual(t, answer.UsedContext, 1, "at least one item always survives")
	assert.Equal(t, items[0].Doc.ID, answer.Attributions[0].DocumentID,
		"truncation drops from the tail, never the best hit")
	assert.False(t, strings.Contains(gen.prompts[0], "third ranked"))
}
