// Package query runs retrieval for search and RAG: variant expansion,
// parallel multi-query retrieval, reciprocal-rank fusion, optional
// re-ranking, and relationship-based context expansion.
package query

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/reranker"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
)

const (
	// DefaultLimit applies when a request leaves limit unset.
	DefaultLimit = 5

	// Each variant retrieves an enlarged pool so fusion has candidates
	// beyond the final cut.
	poolMultiplier   = 2
	maxCandidatePool = 50

	// rrfK dampens the rank contribution in reciprocal-rank fusion.
	rrfK = 60
)

// Pipeline is stateless aside from the expansion cache inside Expander.
type Pipeline struct {
	store    store.CollectionStore
	vectors  vectorstore.Store
	embedder embeddings.Provider
	llm      llm.Provider
	reranker reranker.Reranker
	expander *Expander
	cfg      config.QueryConfig
	logger   *logging.Logger
}

// New wires the pipeline. llmProvider and rr may be nil; the affected
// stages then degrade silently.
func New(cs store.CollectionStore, vs vectorstore.Store, embedder embeddings.Provider,
	llmProvider llm.Provider, rr reranker.Reranker, cfg config.QueryConfig, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	var expander *Expander
	if cfg.QueryExpansionEnabled && llmProvider != nil {
		expander = NewExpander(llmProvider, cfg, logger)
	}
	return &Pipeline{
		store:    cs,
		vectors:  vs,
		embedder: embedder,
		llm:      llmProvider,
		reranker: rr,
		expander: expander,
		cfg:      cfg,
		logger:   logger,
	}
}

// SearchRequest carries the search inputs shared by both adapters.
type SearchRequest struct {
	Query      string
	Collection string

	// Limit caps returned results; 0 means DefaultLimit.
	Limit int

	// SimilarityThreshold overrides the configured default when set.
	SimilarityThreshold *float64

	// Filter narrows retrieval by exact metadata match.
	Filter map[string]string

	// ExpandContext materializes each match's related chunks.
	ExpandContext bool
}

// ContextChunk is one materialized related chunk.
type ContextChunk struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

// SearchResult is one ranked match.
type SearchResult struct {
	ChunkID         string            `json:"chunk_id"`
	Collection      string            `json:"collection"`
	Text            string            `json:"text"`
	Score           float32           `json:"score"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpandedContext []ContextChunk    `json:"expanded_context,omitempty"`
}

// SearchMetadata reports how the pipeline behaved for one request.
type SearchMetadata struct {
	ExpansionUsed bool  `json:"expansion_used"`
	VariantCount  int   `json:"variant_count"`
	RerankUsed    bool  `json:"rerank_used"`
	Candidates    int   `json:"candidates"`
	ElapsedMS     int64 `json:"elapsed_ms"`
}

// SearchResponse is the full search outcome.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Metadata SearchMetadata `json:"metadata"`
}

// candidate is a fused retrieval hit.
type candidate struct {
	result     vectorstore.QueryResult
	collection string
	rrf        float64
}

// Search runs the retrieval stages and returns ranked results.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	limit, threshold, collections, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	queries := []string{req.Query}
	expansionUsed := false
	if p.expander != nil {
		if variants := p.expander.Variants(ctx, req.Query); len(variants) > 0 {
			queries = append(queries, variants...)
			expansionUsed = true
		}
	}

	fused, err := p.retrieve(ctx, queries, collections, limit, req.Filter)
	if err != nil {
		return nil, err
	}
	candidateCount := len(fused)

	rerankUsed := p.rerank(ctx, req.Query, fused)

	results := make([]SearchResult, 0, limit)
	for _, c := range fused {
		if float64(c.result.Score) < threshold {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    c.result.ChunkID,
			Collection: c.collection,
			Text:       c.result.Text,
			Score:      c.result.Score,
			Metadata:   c.result.Metadata,
		})
		if len(results) == limit {
			break
		}
	}

	if p.cfg.ContextExpansionEnabled && req.ExpandContext {
		p.expandContext(ctx, results, fused)
	}

	return &SearchResponse{
		Results: results,
		Metadata: SearchMetadata{
			ExpansionUsed: expansionUsed,
			VariantCount:  len(queries),
			RerankUsed:    rerankUsed,
			Candidates:    candidateCount,
			ElapsedMS:     time.Since(start).Milliseconds(),
		},
	}, nil
}

// validate checks inputs and resolves the target collections.
func (p *Pipeline) validate(ctx context.Context, req SearchRequest) (limit int, threshold float64, collections []string, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, nil, apperr.E(apperr.KindValidation, "missing_query", "query must not be empty")
	}
	limit = req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 {
		return 0, 0, nil, apperr.Errorf(apperr.KindValidation, "invalid_limit",
			"limit must be at least 1, got %d", req.Limit)
	}
	threshold = p.cfg.SimilarityThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
		if threshold < 0 || threshold > 1 {
			return 0, 0, nil, apperr.Errorf(apperr.KindValidation, "invalid_threshold",
				"similarity_threshold must be within [0,1], got %g", threshold)
		}
	}
	if p.embedder == nil || p.vectors == nil {
		return 0, 0, nil, apperr.E(apperr.KindUnavailable, "service_unavailable",
			"vector search is not available")
	}

	if req.Collection != "" {
		if _, err := p.store.GetCollection(ctx, req.Collection); err != nil {
			return 0, 0, nil, err
		}
		return limit, threshold, []string{req.Collection}, nil
	}

	// No collection given: search them all.
	all, err := p.store.ListCollections(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	for _, c := range all {
		collections = append(collections, c.ID)
	}
	return limit, threshold, collections, nil
}

// retrieve embeds every query variant in parallel, queries each target
// collection with an enlarged pool, and fuses the result lists with
// reciprocal-rank fusion. The best vector score per chunk is retained.
func (p *Pipeline) retrieve(ctx context.Context, queries, collections []string, limit int, filter map[string]string) ([]candidate, error) {
	pool := limit * poolMultiplier
	if pool > maxCandidatePool {
		pool = maxCandidatePool
	}

	var mu sync.Mutex
	fused := map[string]*candidate{}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		variant := q
		g.Go(func() error {
			vector, err := p.embedder.EmbedQuery(gctx, variant)
			if err != nil {
				return apperr.Wrap(apperr.KindUnavailable, "service_unavailable",
					"embedding query", err)
			}

			// One ranked list per variant; ranks feed the fusion score.
			var hits []candidate
			for _, col := range collections {
				results, err := p.vectors.Query(gctx, col, vector, pool, 0, filter)
				if err != nil {
					return apperr.Wrap(apperr.KindUnavailable, "service_unavailable",
						"querying vector store", err)
				}
				for _, r := range results {
					hits = append(hits, candidate{result: r, collection: col})
				}
			}
			sort.SliceStable(hits, func(i, j int) bool {
				return hits[i].result.Score > hits[j].result.Score
			})

			mu.Lock()
			defer mu.Unlock()
			for rank, h := range hits {
				existing, ok := fused[h.result.ChunkID]
				if !ok {
					c := h
					c.rrf = 1 / float64(rrfK+rank+1)
					fused[h.result.ChunkID] = &c
					continue
				}
				existing.rrf += 1 / float64(rrfK+rank+1)
				if h.result.Score > existing.result.Score {
					existing.result = h.result
					existing.collection = h.collection
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rrf > out[j].rrf })
	return out, nil
}

// rerank reorders fused candidates in place when the configured
// conditions hold. Failures keep the fusion order.
func (p *Pipeline) rerank(ctx context.Context, query string, fused []candidate) bool {
	if p.reranker == nil || !p.cfg.AutoRerankingEnabled || len(fused) <= p.cfg.RerankingThreshold {
		return false
	}

	byID := make(map[string]candidate, len(fused))
	docs := make([]reranker.Candidate, len(fused))
	for i, c := range fused {
		byID[c.result.ChunkID] = c
		docs[i] = reranker.Candidate{
			ChunkID: c.result.ChunkID,
			Text:    c.result.Text,
			Score:   c.result.Score,
		}
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		p.logger.Warn(ctx, "reranking failed, keeping fusion order", zap.Error(err))
		return false
	}

	for i, r := range ranked {
		fused[i] = byID[r.ChunkID]
	}
	return true
}

// expandContext attaches each result's related chunks. Expansion never
// fails the request; a lookup error just leaves the context empty.
func (p *Pipeline) expandContext(ctx context.Context, results []SearchResult, fused []candidate) {
	related := make(map[string][]string, len(fused))
	for _, c := range fused {
		related[c.result.ChunkID] = c.result.RelatedIDs
	}

	returned := make(map[string]bool, len(results))
	for _, r := range results {
		returned[r.ChunkID] = true
	}

	for i := range results {
		ids := related[results[i].ChunkID]
		if len(ids) == 0 {
			continue
		}
		lookup := make([]string, 0, len(ids))
		for _, id := range ids {
			if !returned[id] {
				lookup = append(lookup, id)
			}
		}
		if len(lookup) == 0 {
			continue
		}

		chunks, err := p.vectors.Get(ctx, results[i].Collection, lookup)
		if err != nil {
			p.logger.Warn(ctx, "context expansion lookup failed",
				zap.String("chunk", results[i].ChunkID), zap.Error(err))
			continue
		}
		for _, c := range chunks {
			results[i].ExpandedContext = append(results[i].ExpandedContext, ContextChunk{
				ChunkID: c.ChunkID,
				Text:    c.Text,
			})
		}
	}
}
