// Package embeddings provides embedding generation via pluggable providers.
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
)

// Provider generates embeddings for documents and queries.
type Provider interface {
	// EmbedDocuments embeds texts in provider-preferred batches.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimensionality.
	Dimension() int

	// Fingerprint identifies model plus dimensionality. Records embedded
	// under a different fingerprint require a full re-embed.
	Fingerprint() string

	// Close releases provider resources.
	Close() error
}

// Fingerprint builds the canonical model fingerprint.
func Fingerprint(model string, dimension int) string {
	return fmt.Sprintf("%s:%d", model, dimension)
}

// modelDimensions maps known embedding models to their dimensionality.
var modelDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// dimensionForModel resolves a model's dimensionality, preferring the
// known-model table, then name heuristics.
func dimensionForModel(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 768
	}
}

// New constructs the configured provider.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = dimensionForModel(cfg.Model)
	}

	switch cfg.Provider {
	case "ollama":
		return newOllamaProvider(cfg, dim)
	case "openai":
		return newOpenAIProvider(cfg, dim)
	case "mock":
		return NewMock(dim), nil
	default:
		return nil, apperr.Errorf(apperr.KindValidation, "invalid_config",
			"unknown embedding provider %q (want ollama, openai, or mock)", cfg.Provider)
	}
}
