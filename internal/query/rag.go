package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// charsPerToken is the rough character-to-token ratio used for the
// context budget; precise tokenization depends on the provider.
const charsPerToken = 4

// RAGRequest carries the retrieval-augmented generation inputs.
type RAGRequest struct {
	Query               string
	Collection          string
	Limit               int
	SimilarityThreshold *float64
	Filter              map[string]string
}

// RAGSource is one chunk that fed the answer.
type RAGSource struct {
	ChunkID    string  `json:"chunk_id"`
	Collection string  `json:"collection"`
	FileKey    string  `json:"file_key,omitempty"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// RAGMetadata describes how the answer was produced.
type RAGMetadata struct {
	ChunksUsed    int    `json:"chunks_used"`
	Collection    string `json:"collection,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ExpansionUsed bool   `json:"expansion_used"`
	ElapsedMS     int64  `json:"elapsed_ms"`
}

// RAGResponse is the generation outcome. Answer is nil and Degraded is
// true when no LLM is available; Sources then carry the raw retrieval.
type RAGResponse struct {
	Answer   *string     `json:"answer"`
	Degraded bool        `json:"degraded"`
	Sources  []RAGSource `json:"sources"`
	Metadata RAGMetadata `json:"metadata"`
}

// RAG runs retrieval, assembles a budgeted context, and asks the LLM
// for an answer grounded in that context.
func (p *Pipeline) RAG(ctx context.Context, req RAGRequest) (*RAGResponse, error) {
	start := time.Now()
	provider := p.llm

	search, err := p.Search(ctx, SearchRequest{
		Query:               req.Query,
		Collection:          req.Collection,
		Limit:               req.Limit,
		SimilarityThreshold: req.SimilarityThreshold,
		Filter:              req.Filter,
	})
	if err != nil {
		return nil, err
	}

	budget := p.cfg.RAGTokenBudget * charsPerToken
	var (
		sources []RAGSource
		used    int
	)
	for _, r := range search.Results {
		if used+len(r.Text) > budget && len(sources) > 0 {
			break
		}
		used += len(r.Text)
		sources = append(sources, RAGSource{
			ChunkID:    r.ChunkID,
			Collection: r.Collection,
			FileKey:    r.Metadata["file_key"],
			Score:      r.Score,
			Text:       r.Text,
		})
	}

	resp := &RAGResponse{
		Sources: sources,
		Metadata: RAGMetadata{
			ChunksUsed:    len(sources),
			Collection:    req.Collection,
			ExpansionUsed: search.Metadata.ExpansionUsed,
		},
	}

	if provider == nil || len(sources) == 0 {
		resp.Degraded = provider == nil
		resp.Metadata.ElapsedMS = time.Since(start).Milliseconds()
		return resp, nil
	}

	answer, err := provider.Complete(ctx, ragPrompt(req.Query, sources))
	if err != nil {
		// Generation failures degrade to retrieval-only.
		p.logger.Warn(ctx, "rag generation degraded", zap.Error(err))
		resp.Degraded = true
		resp.Metadata.ElapsedMS = time.Since(start).Milliseconds()
		return resp, nil
	}

	resp.Answer = &answer
	resp.Metadata.Provider = provider.Model()
	resp.Metadata.ElapsedMS = time.Since(start).Milliseconds()
	return resp, nil
}

func ragPrompt(question string, sources []RAGSource) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you do not know.\n\nContext:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, s.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)
	return b.String()
}
