package reranker

import (
	"context"
	"strings"
)

// Simple is a lexical reranker: it measures term overlap between the
// query and each candidate. It needs no model, so it serves as the
// reranking backend when no completion provider is configured.
type Simple struct{}

func NewSimple() *Simple { return &Simple{} }

func (r *Simple) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	queryTerms := tokenize(query)

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(queryTerms, tokenize(c.Text))
		ranked[i] = Ranked{
			Candidate:   c,
			RerankScore: overlap,
			FinalScore:  llmWeight*overlap + vectorWeight*c.Score,
		}
	}
	return sortAndTrim(ranked, topK), nil
}

func (r *Simple) Close() error { return nil }

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true,
}

// tokenize lowercases, splits on non-word runes, and drops stopwords
// and very short tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		return !alnum
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

// termOverlap is the fraction of distinct query terms present in the
// candidate, in [0,1].
func termOverlap(queryTerms, docTerms []string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = true
	}
	seen := make(map[string]bool, len(queryTerms))
	matches, distinct := 0, 0
	for _, t := range queryTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		distinct++
		if docSet[t] {
			matches++
		}
	}
	return float32(matches) / float32(distinct)
}
