package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "tei"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOllamaProviderDefaults(t *testing.T) {
	// Construction does not contact the server; only embedding calls do.
	p, err := NewOllamaProvider(OllamaConfig{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 768, p.Dimension(), "nomic-embed-text is 768-dimensional")
}

func TestOllamaProviderRejectsEmptyInput(t *testing.T) {
	p, err := NewOllamaProvider(OllamaConfig{Model: "all-minilm"})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.EmbedDocuments(t.Context(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(t.Context(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
