// Package compose assembles validated context into a bounded prompt,
// invokes the generation capability, and attaches source attribution.
package compose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/generate"
	"github.com/kestrellabs/skywatch/internal/retrieval"
)

// InsufficientDataAnswer is returned verbatim when no context survives
// retrieval and validation. Generation is never invoked in that case;
// the composer must answer "no data", not fabricate.
const InsufficientDataAnswer = "Insufficient data to answer that right now. No live records matched the question."

// Attribution names one source document behind an answer.
type Attribution struct {
	DocumentID string        `json:"document_id"`
	Kind       document.Kind `json:"kind"`
}

// Answer is the composed result of one query.
type Answer struct {
	AnswerText   string        `json:"answer_text"`
	Attributions []Attribution `json:"attributions"`
	UsedContext  int           `json:"used_context"`
	Degraded     bool          `json:"degraded"`
}

// Config bounds the prompt package.
type Config struct {
	// PromptBudget caps the rendered context in characters. Items are
	// dropped lowest-ranked first until the bundle fits. Default: 4000.
	PromptBudget int `koanf:"prompt_budget"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.PromptBudget <= 0 {
		c.PromptBudget = 4000
	}
}

// Composer builds prompts and absorbs generation failures into degraded
// answers. Compose never fails.
type Composer struct {
	generator generate.Generator
	config    Config
	logger    *zap.Logger
}

// New creates a composer over the given generator.
func New(generator generate.Generator, config Config, logger *zap.Logger) *Composer {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{generator: generator, config: config, logger: logger}
}

// Compose turns a query and its validated context into an answer. On
// generation timeout or unavailability the answer carries the raw
// attributed context with Degraded set instead of synthesized prose.
func (c *Composer) Compose(ctx context.Context, rawQuery string, items []retrieval.Item) *Answer {
	if len(items) == 0 {
		return &Answer{AnswerText: InsufficientDataAnswer}
	}

	items = c.fitBudget(items)
	lines := renderContext(items)
	attributions := make([]Attribution, len(items))
	for i, item := range items {
		attributions[i] = Attribution{DocumentID: item.Doc.ID, Kind: item.Doc.Kind}
	}

	prompt := buildPrompt(rawQuery, lines)
	text, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("returning degraded answer", zap.Error(err))
		return &Answer{
			AnswerText:   degradedAnswer(lines),
			Attributions: attributions,
			UsedContext:  len(items),
			Degraded:     true,
		}
	}

	return &Answer{
		AnswerText:   strings.TrimSpace(text),
		Attributions: attributions,
		UsedContext:  len(items),
	}
}

// fitBudget drops lowest-ranked items until the rendered context fits the
// prompt budget. Items arrive ordered best-first, so truncation is from
// the tail. At least one item always survives.
func (c *Composer) fitBudget(items []retrieval.Item) []retrieval.Item {
	for len(items) > 1 {
		size := 0
		for _, line := range renderContext(items) {
			size += len(line) + 1
		}
		if size <= c.config.PromptBudget {
			break
		}
		items = items[:len(items)-1]
	}
	return items
}

func renderContext(items []retrieval.Item) []string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("- [%s, %s] %s",
			item.Doc.Kind,
			item.Doc.Timestamp.UTC().Format(time.RFC3339),
			item.Doc.Text)
	}
	return lines
}

func buildPrompt(rawQuery string, lines []string) string {
	var b strings.Builder
	b.WriteString("You are an aviation operations assistant. Answer the question using only the live observations below. ")
	b.WriteString("Each observation is tagged with its kind and timestamp. ")
	b.WriteString("If the observations do not answer the question, say so plainly. Do not invent data.\n\n")
	b.WriteString("Observations:\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(rawQuery)
	b.WriteString("\nAnswer:")
	return b.String()
}

func degradedAnswer(lines []string) string {
	var b strings.Builder
	b.WriteString("Answer generation is unavailable; here is the most relevant live data:\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
