package embeddings

import (
	"context"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
)

const defaultBatchSize = 32

// langchainProvider adapts a langchaingo embedder client to Provider.
type langchainProvider struct {
	client    lcembeddings.EmbedderClient
	model     string
	dimension int
	batchSize int
}

func newOllamaProvider(cfg config.EmbeddingConfig, dim int) (Provider, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "embedding_provider_unavailable",
			"creating ollama embedding client", err)
	}
	return newLangchainProvider(client, cfg, dim), nil
}

func newOpenAIProvider(cfg config.EmbeddingConfig, dim int) (Provider, error) {
	opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey.IsSet() {
		opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "embedding_provider_unavailable",
			"creating openai embedding client", err)
	}
	return newLangchainProvider(client, cfg, dim), nil
}

func newLangchainProvider(client lcembeddings.EmbedderClient, cfg config.EmbeddingConfig, dim int) *langchainProvider {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &langchainProvider{
		client:    client,
		model:     cfg.Model,
		dimension: dim,
		batchSize: batch,
	}
}

func (p *langchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, apperr.FromContext(ctx.Err())
		}
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.client.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "embedding_provider_unavailable",
				"creating embeddings", err)
		}
		if len(batch) != end-start {
			return nil, apperr.Errorf(apperr.KindUnavailable, "embedding_provider_unavailable",
				"provider returned %d vectors for %d inputs", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (p *langchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *langchainProvider) Dimension() int { return p.dimension }

func (p *langchainProvider) Fingerprint() string {
	return Fingerprint(p.model, p.dimension)
}

func (p *langchainProvider) Close() error { return nil }
