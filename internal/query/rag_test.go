package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
)

func TestRAGAnswersFromContext(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	provider := &llm.Func{
		Name: "test-model",
		Fn: func(ctx context.Context, prompt string) (string, error) {
			return "Pooling keeps latency predictable.", nil
		},
	}
	p := New(cs, vs, embedder, provider, nil, baseConfig(), nil)

	resp, err := p.RAG(ctx, RAGRequest{
		Query:      "Connection pooling keeps database latency predictable.",
		Collection: "docs",
		Limit:      2,
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Answer)
	assert.Equal(t, "Pooling keeps latency predictable.", *resp.Answer)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "test-model", resp.Metadata.Provider)
	assert.Equal(t, len(resp.Sources), resp.Metadata.ChunksUsed)
	assert.Equal(t, "chunk-db", resp.Sources[0].ChunkID)
	assert.Equal(t, "notes.md", resp.Sources[0].FileKey)

	prompts := provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Connection pooling keeps database latency predictable.")
	assert.Contains(t, prompts[0], "Question:")
}

func TestRAGDegradesWithoutLLM(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	resp, err := p.RAG(ctx, RAGRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: "docs",
		Limit:      2,
	})
	require.NoError(t, err)

	assert.Nil(t, resp.Answer)
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Sources, "retrieval results still come back")
}

func TestRAGDegradesOnGenerationFailure(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "", apperr.E(apperr.KindUnavailable, "llm_unavailable", "down")
	}}
	p := New(cs, vs, embedder, provider, nil, baseConfig(), nil)

	resp, err := p.RAG(ctx, RAGRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: "docs",
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Answer)
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Sources)
}

func TestRAGRespectsTokenBudget(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	cfg := baseConfig()
	// Budget fits roughly one chunk of the seeded corpus.
	cfg.RAGTokenBudget = 15

	p := New(cs, vs, embedder, nil, nil, cfg, nil)
	resp, err := p.RAG(ctx, RAGRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: "docs",
		Limit:      3,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1, "budget admits the first chunk only")
}

func TestRAGPropagatesValidation(t *testing.T) {
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	_, err := p.RAG(context.Background(), RAGRequest{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRAGPromptFormat(t *testing.T) {
	prompt := ragPrompt("what is pooling?", []RAGSource{
		{ChunkID: "a", Text: "first chunk"},
		{ChunkID: "b", Text: "second chunk"},
	})
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
	assert.Contains(t, prompt, "[1] first chunk")
	assert.Contains(t, prompt, "[2] second chunk")
}
