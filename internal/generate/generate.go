// Package generate wraps the external text-generation capability used to
// phrase final answers.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sentinel errors for generation failures. Callers degrade the answer on
// either; they never propagate past the query boundary.
var (
	// ErrTimeout indicates the generation call exceeded its deadline.
	ErrTimeout = errors.New("generation timed out")

	// ErrUnavailable indicates the generation backend failed or refused.
	ErrUnavailable = errors.New("generation unavailable")
)

// Generator produces prose from a prompt within a bounded time.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds configuration for the Ollama-backed generator.
type Config struct {
	// ServerURL is the Ollama server URL. Default: http://localhost:11434.
	ServerURL string `koanf:"server_url"`

	// Model is the generation model. Default: llama3.2.
	Model string `koanf:"model"`

	// Timeout bounds each generation call. Default: 20s.
	Timeout time.Duration `koanf:"timeout"`

	// Temperature for sampling. Default: 0.2; answers should stay close
	// to the supplied context.
	Temperature float64 `koanf:"temperature"`

	// MaxTokens caps the generated answer length. Default: 512.
	MaxTokens int `koanf:"max_tokens"`

	// RateLimit is the sustained calls-per-second allowance. Default: 2.
	RateLimit float64 `koanf:"rate_limit"`

	// Burst is the rate limiter burst size. Default: 4.
	Burst int `koanf:"burst"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3.2"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
}

// OllamaGenerator generates prose via a local Ollama server. A rate
// limiter keeps a burst of operator queries from stacking up behind a
// single busy model.
type OllamaGenerator struct {
	llm     *ollama.LLM
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOllamaGenerator creates a generator against the configured server.
// Construction does not contact the server; only generation calls do.
func NewOllamaGenerator(config Config, logger *zap.Logger) (*OllamaGenerator, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	llm, err := ollama.New(
		ollama.WithServerURL(config.ServerURL),
		ollama.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &OllamaGenerator{
		llm:     llm,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		logger:  logger,
	}, nil
}

// Generate runs one bounded generation call. Deadline overruns map to
// ErrTimeout, everything else to ErrUnavailable.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("generation timed out",
				zap.Duration("timeout", g.config.Timeout),
				zap.String("model", g.config.Model))
			return "", fmt.Errorf("%w after %s", ErrTimeout, g.config.Timeout)
		}
		g.logger.Warn("generation failed",
			zap.String("model", g.config.Model),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.logger.Debug("generation completed",
		zap.Duration("took", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("answer_chars", len(text)))
	return text, nil
}
