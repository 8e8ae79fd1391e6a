// Package reranker reorders search candidates by relevance to the
// original query, blending the reranker's judgement with the vector
// similarity score.
package reranker

import (
	"context"
	"sort"
)

// Candidate is one search result up for reordering.
type Candidate struct {
	ChunkID string
	Text    string

	// Score is the vector similarity from retrieval, in [0,1].
	Score float32
}

// Ranked is a candidate with its blended relevance.
type Ranked struct {
	Candidate

	// RerankScore is the reranker's own relevance estimate in [0,1].
	RerankScore float32

	// FinalScore is the blend used for ordering.
	FinalScore float32
}

// Reranker reorders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns the candidates sorted by blended relevance,
	// trimmed to topK (topK <= 0 keeps all).
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error)

	Close() error
}

// sortAndTrim orders ranked results by final score and applies topK.
func sortAndTrim(ranked []Ranked, topK int) []Ranked {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked
}
