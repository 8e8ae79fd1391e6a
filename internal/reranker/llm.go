package reranker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
)

// Blend weights for the final ordering. Vector similarity dominates so
// a noisy relevance judgement cannot fully invert retrieval order.
const (
	llmWeight    = 0.3
	vectorWeight = 0.7

	// Candidate text is truncated in the scoring prompt to keep it
	// within typical completion context windows.
	maxPromptTextLen = 400
)

// LLMReranker scores every candidate against the query in a single
// completion and blends the result with the vector score.
type LLMReranker struct {
	provider llm.Provider
}

// NewLLM creates a reranker backed by the given completion provider.
func NewLLM(provider llm.Provider) *LLMReranker {
	return &LLMReranker{provider: provider}
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	answer, err := r.provider.Complete(ctx, scoringPrompt(query, candidates))
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(answer, len(candidates))
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{
			Candidate:   c,
			RerankScore: scores[i],
			FinalScore:  llmWeight*scores[i] + vectorWeight*c.Score,
		}
	}
	return sortAndTrim(ranked, topK), nil
}

func (r *LLMReranker) Close() error { return nil }

func scoringPrompt(query string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Rate how relevant each passage is to the query on a scale of 0 to 10.\n")
	b.WriteString("Respond with one line per passage in the form \"<number>: <score>\" and nothing else.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, c := range candidates {
		text := c.Text
		if len(text) > maxPromptTextLen {
			cut := maxPromptTextLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, text)
	}
	return b.String()
}

var scoreLineRe = regexp.MustCompile(`^\s*(?:passage\s+)?(\d+)\s*[:.\-]\s*(\d+(?:\.\d+)?)`)

// parseScores reads "<index>: <score>" lines. Unscored candidates get a
// neutral 0.5 so a partial answer still produces a full ordering.
func parseScores(answer string, count int) ([]float32, error) {
	scores := make([]float32, count)
	for i := range scores {
		scores[i] = 0.5
	}

	matched := 0
	for _, line := range strings.Split(answer, "\n") {
		m := scoreLineRe.FindStringSubmatch(strings.ToLower(line))
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > count {
			continue
		}
		raw, err := strconv.ParseFloat(m[2], 32)
		if err != nil {
			continue
		}
		if raw > 10 {
			raw = 10
		}
		scores[idx-1] = float32(raw / 10)
		matched++
	}
	if matched == 0 {
		return nil, apperr.Errorf(apperr.KindUnavailable, "llm_unavailable",
			"relevance scoring returned no parsable scores")
	}
	return scores, nil
}
