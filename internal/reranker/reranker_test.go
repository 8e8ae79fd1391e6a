package reranker

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
)

func candidates() []Candidate {
	return []Candidate{
		{ChunkID: "c1", Text: "How to configure the database connection pool", Score: 0.9},
		{ChunkID: "c2", Text: "Vector search with cosine similarity and thresholds", Score: 0.8},
		{ChunkID: "c3", Text: "Unrelated release notes for the mobile app", Score: 0.7},
	}
}

func TestSimpleRerankBoostsTermOverlap(t *testing.T) {
	ranked, err := NewSimple().Rerank(context.Background(),
		"cosine similarity search", candidates(), 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	// c2 matches all query terms; the lexical boost outweighs c1's
	// slightly higher vector score.
	assert.Equal(t, "c2", ranked[0].ChunkID)
	assert.InDelta(t, 1.0, ranked[0].RerankScore, 0.001)
	assert.Zero(t, ranked[1].RerankScore+ranked[2].RerankScore)
}

func TestSimpleRerankTopK(t *testing.T) {
	ranked, err := NewSimple().Rerank(context.Background(), "database pool", candidates(), 2)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "c1", ranked[0].ChunkID)
}

func TestSimpleRerankEmptyQueryKeepsVectorOrder(t *testing.T) {
	ranked, err := NewSimple().Rerank(context.Background(), "the and of", candidates(), 0)
	require.NoError(t, err)
	assert.Equal(t, "c1", ranked[0].ChunkID)
	assert.Equal(t, "c2", ranked[1].ChunkID)
	assert.Equal(t, "c3", ranked[2].ChunkID)
}

func TestLLMRerankBlendsScores(t *testing.T) {
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "1: 2\n2: 10\n3: 0\n", nil
	}}

	ranked, err := NewLLM(provider).Rerank(context.Background(), "similarity", candidates(), 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, "c2", ranked[0].ChunkID)
	assert.InDelta(t, 0.3*1.0+0.7*0.8, ranked[0].FinalScore, 0.001)
	assert.Equal(t, "c1", ranked[1].ChunkID)
	assert.Equal(t, "c3", ranked[2].ChunkID)
}

func TestLLMRerankPartialAnswer(t *testing.T) {
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "Passage 2: 9\ngarbage line\n", nil
	}}

	ranked, err := NewLLM(provider).Rerank(context.Background(), "q", candidates(), 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	// Unscored candidates fall back to a neutral 0.5.
	for _, r := range ranked {
		if r.ChunkID == "c2" {
			assert.InDelta(t, 0.9, r.RerankScore, 0.001)
		} else {
			assert.InDelta(t, 0.5, r.RerankScore, 0.001)
		}
	}
}

func TestLLMRerankUnparsableAnswer(t *testing.T) {
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "I cannot rate these passages.", nil
	}}

	_, err := NewLLM(provider).Rerank(context.Background(), "q", candidates(), 0)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestLLMRerankPromptTruncatesOnRuneBoundary(t *testing.T) {
	long := []Candidate{
		{ChunkID: "c1", Text: strings.Repeat("每个人都有自己的梦想", 100), Score: 0.9},
	}

	var captured string
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		captured = prompt
		return "1: 7\n", nil
	}}

	_, err := NewLLM(provider).Rerank(context.Background(), "梦想", long, 0)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(captured),
		"truncated passage text must not cut a rune in half")
	assert.Less(t, len(captured), len(long[0].Text),
		"oversized passages are truncated in the prompt")
}

func TestLLMRerankProviderError(t *testing.T) {
	provider := &llm.Func{Fn: func(ctx context.Context, prompt string) (string, error) {
		return "", apperr.E(apperr.KindUnavailable, "llm_unavailable", "down")
	}}

	_, err := NewLLM(provider).Rerank(context.Background(), "q", candidates(), 0)
	require.Error(t, err)
}
