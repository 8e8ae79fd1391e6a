package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
	"github.com/fyrsmithlabs/shelfd/internal/reranker"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
)

func baseConfig() config.QueryConfig {
	return config.QueryConfig{
		MaxQueryVariants:   3,
		RerankingThreshold: 8,
		ExpansionCacheTTL:  config.Duration(time.Minute),
		ExpansionCacheSize: 16,
		RAGTokenBudget:     4000,
	}
}

// newCorpus seeds a sqlite store and a chromem index with three chunks
// embedded by the deterministic mock provider.
func newCorpus(t *testing.T) (store.CollectionStore, vectorstore.Store, embeddings.Provider) {
	t.Helper()
	ctx := context.Background()

	cs, err := store.OpenSQLStore(filepath.Join(t.TempDir(), "collections.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	vs, err := vectorstore.NewChromemStore(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)

	_, err = cs.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)

	embedder := embeddings.NewMock(64)
	texts := map[string]string{
		"chunk-db":     "Connection pooling keeps database latency predictable.",
		"chunk-search": "Vector search ranks chunks by cosine similarity.",
		"chunk-notes":  "Release notes for the mobile application.",
	}
	records := make([]vectorstore.Record, 0, len(texts))
	for id, text := range texts {
		vec, err := embedder.EmbedQuery(ctx, text)
		require.NoError(t, err)
		records = append(records, vectorstore.Record{
			ChunkID: id,
			Text:    text,
			Vector:  vec,
			Metadata: map[string]any{
				"collection_id": "docs",
				"file_key":      "notes.md",
			},
		})
	}
	require.NoError(t, vs.Upsert(ctx, "docs", records))
	return cs, vs, embedder
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	_, err := p.Search(ctx, SearchRequest{Query: ""})
	assert.Equal(t, "missing_query", apperr.CodeOf(err))

	_, err = p.Search(ctx, SearchRequest{Query: "q", Limit: -1})
	assert.Equal(t, "invalid_limit", apperr.CodeOf(err))

	bad := 1.5
	_, err = p.Search(ctx, SearchRequest{Query: "q", SimilarityThreshold: &bad})
	assert.Equal(t, "invalid_threshold", apperr.CodeOf(err))

	_, err = p.Search(ctx, SearchRequest{Query: "q", Collection: "nope"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSearchUnavailableWithoutEmbedder(t *testing.T) {
	cs, vs, _ := newCorpus(t)
	p := New(cs, vs, nil, nil, nil, baseConfig(), nil)

	_, err := p.Search(context.Background(), SearchRequest{Query: "q"})
	assert.Equal(t, "service_unavailable", apperr.CodeOf(err))
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	resp, err := p.Search(ctx, SearchRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: "docs",
		Limit:      3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	assert.Equal(t, "chunk-search", resp.Results[0].ChunkID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 0.01)
	assert.Equal(t, "docs", resp.Results[0].Collection)
	assert.Equal(t, "notes.md", resp.Results[0].Metadata["file_key"])

	assert.False(t, resp.Metadata.ExpansionUsed)
	assert.Equal(t, 1, resp.Metadata.VariantCount)
	assert.False(t, resp.Metadata.RerankUsed)
}

func TestSearchAllCollectionsWhenUnscoped(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	resp, err := p.Search(ctx, SearchRequest{
		Query: "Connection pooling keeps database latency predictable.",
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "chunk-db", resp.Results[0].ChunkID)
}

func TestSearchThresholdFilters(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)
	p := New(cs, vs, embedder, nil, nil, baseConfig(), nil)

	strict := 0.999
	resp, err := p.Search(ctx, SearchRequest{
		Query:               "Vector search ranks chunks by cosine similarity.",
		Collection:          "docs",
		Limit:               3,
		SimilarityThreshold: &strict,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1, "only the exact match clears the threshold")
	assert.Equal(t, "chunk-search", resp.Results[0].ChunkID)
}

func TestSearchExpansionUsedAndDegraded(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	cfg := baseConfig()
	cfg.QueryExpansionEnabled = true

	working := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "database connection pooling\nkeeping db latency low", nil
	}}
	p := New(cs, vs, embedder, working, nil, cfg, nil)

	resp, err := p.Search(ctx, SearchRequest{Query: "db pooling", Collection: "docs", Limit: 3})
	require.NoError(t, err)
	assert.True(t, resp.Metadata.ExpansionUsed)
	assert.Equal(t, 3, resp.Metadata.VariantCount)

	broken := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "", apperr.E(apperr.KindUnavailable, "llm_unavailable", "down")
	}}
	p = New(cs, vs, embedder, broken, nil, cfg, nil)

	resp, err = p.Search(ctx, SearchRequest{Query: "db pooling", Collection: "docs", Limit: 3})
	require.NoError(t, err, "expansion failure must not fail the search")
	assert.False(t, resp.Metadata.ExpansionUsed)
	assert.Equal(t, 1, resp.Metadata.VariantCount)
}

func TestExpanderCachesVariants(t *testing.T) {
	ctx := context.Background()
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "- first variant\n- second variant\n- db pooling", nil
	}}
	e := NewExpander(provider, baseConfig(), nil)

	variants := e.Variants(ctx, "db pooling")
	assert.Equal(t, []string{"first variant", "second variant"}, variants,
		"echo of the original query is dropped")

	e.Variants(ctx, "db pooling")
	assert.Len(t, provider.Prompts(), 1, "second call is served from cache")
}

// indexed fakes let the fusion test control each variant's ranked list.
type indexedEmbedder struct {
	embeddings.Provider
	index map[string]float32
}

func (e *indexedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{e.index[text]}, nil
}

type indexedVectors struct {
	vectorstore.Store
	lists map[float32][]vectorstore.QueryResult
}

func (v *indexedVectors) Query(ctx context.Context, collection string, vector []float32, limit int, threshold float32, filter map[string]string) ([]vectorstore.QueryResult, error) {
	return v.lists[vector[0]], nil
}

func TestFusionPrefersChunksSeenByMultipleVariants(t *testing.T) {
	ctx := context.Background()
	cs, _, _ := newCorpus(t)

	embedder := &indexedEmbedder{index: map[string]float32{"orig": 0, "alt": 1}}
	vectors := &indexedVectors{lists: map[float32][]vectorstore.QueryResult{
		0: {
			{ChunkID: "a", Text: "a", Score: 0.9},
			{ChunkID: "b", Text: "b", Score: 0.8},
		},
		1: {
			{ChunkID: "b", Text: "b", Score: 0.85},
			{ChunkID: "c", Text: "c", Score: 0.7},
		},
	}}

	cfg := baseConfig()
	cfg.QueryExpansionEnabled = true
	expand := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "alt", nil
	}}
	p := New(cs, vectors, embedder, expand, nil, cfg, nil)

	resp, err := p.Search(ctx, SearchRequest{Query: "orig", Collection: "docs", Limit: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// b appears in both variant lists, so fusion ranks it above a even
	// though a has the single best vector score.
	assert.Equal(t, "b", resp.Results[0].ChunkID)
	assert.Equal(t, "a", resp.Results[1].ChunkID)
	assert.Equal(t, "c", resp.Results[2].ChunkID)
	assert.InDelta(t, 0.85, resp.Results[0].Score, 0.001, "best vector score per chunk is kept")
	assert.Equal(t, 3, resp.Metadata.Candidates)
}

func TestRerankAppliedAboveThreshold(t *testing.T) {
	ctx := context.Background()
	cs, _, _ := newCorpus(t)

	list := make([]vectorstore.QueryResult, 0, 10)
	for _, id := range []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9"} {
		list = append(list, vectorstore.QueryResult{ChunkID: id, Text: "payload " + id, Score: 0.5})
	}
	embedder := &indexedEmbedder{index: map[string]float32{"q": 0}}
	vectors := &indexedVectors{lists: map[float32][]vectorstore.QueryResult{0: list}}

	cfg := baseConfig()
	cfg.AutoRerankingEnabled = true
	cfg.RerankingThreshold = 8

	scorer := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "7: 10\n", nil
	}}
	p := New(cs, vectors, embedder, nil, reranker.NewLLM(scorer), cfg, nil)

	resp, err := p.Search(ctx, SearchRequest{Query: "q", Collection: "docs", Limit: 3})
	require.NoError(t, err)
	assert.True(t, resp.Metadata.RerankUsed)
	assert.Equal(t, "r6", resp.Results[0].ChunkID, "the top scored passage moves first")
}

func TestRerankSkippedBelowThreshold(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	cfg := baseConfig()
	cfg.AutoRerankingEnabled = true

	scorer := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("reranker must not be called for small candidate sets")
		return "", nil
	}}
	p := New(cs, vs, embedder, nil, reranker.NewLLM(scorer), cfg, nil)

	resp, err := p.Search(ctx, SearchRequest{Query: "anything", Collection: "docs", Limit: 3})
	require.NoError(t, err)
	assert.False(t, resp.Metadata.RerankUsed)
}

func TestContextExpansionMaterializesRelatedChunks(t *testing.T) {
	ctx := context.Background()
	cs, vs, embedder := newCorpus(t)

	// Link chunk-search to chunk-notes through the relationship metadata.
	vec, err := embedder.EmbedQuery(ctx, "Vector search ranks chunks by cosine similarity.")
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, "docs", []vectorstore.Record{{
		ChunkID: "chunk-search",
		Text:    "Vector search ranks chunks by cosine similarity.",
		Vector:  vec,
		Metadata: map[string]any{
			"collection_id": "docs",
			"file_key":      "notes.md",
			"related":       "chunk-notes",
		},
	}}))

	cfg := baseConfig()
	cfg.ContextExpansionEnabled = true
	p := New(cs, vs, embedder, nil, nil, cfg, nil)

	resp, err := p.Search(ctx, SearchRequest{
		Query:         "Vector search ranks chunks by cosine similarity.",
		Collection:    "docs",
		Limit:         1,
		ExpandContext: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].ExpandedContext, 1)
	assert.Equal(t, "chunk-notes", resp.Results[0].ExpandedContext[0].ChunkID)

	// Without the per-request flag the context stays empty.
	resp, err = p.Search(ctx, SearchRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: "docs",
		Limit:      1,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results[0].ExpandedContext)
}
