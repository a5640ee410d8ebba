package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig holds configuration for the Ollama embedding provider.
type OllamaConfig struct {
	// ServerURL is the Ollama server URL. Default: http://localhost:11434.
	ServerURL string

	// Model is the embedding model. Default: nomic-embed-text.
	Model string
}

// ollamaModelDimensions maps known Ollama embedding models to dimensions.
var ollamaModelDimensions = map[string]int{
	"nomic-embed-text": 768,
	"all-minilm":       384,
	"mxbai-embed-large": 1024,
}

// OllamaProvider generates embeddings via a local Ollama server.
//
// This suits deployments where the generation model already runs on Ollama
// and a second model download for FastEmbed is unwanted.
type OllamaProvider struct {
	embedder  lcembeddings.Embedder
	dimension int
}

// NewOllamaProvider creates an Ollama-backed embedding provider.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	serverURL := cfg.ServerURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim, ok := ollamaModelDimensions[model]
	if !ok {
		dim = 768
	}

	return &OllamaProvider{embedder: embedder, dimension: dim}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OllamaProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the Ollama provider holds no local resources.
func (p *OllamaProvider) Close() error {
	return nil
}
