package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/shelfd/internal/query"
)

type vectorSearchInput struct {
	Query               string            `json:"query" jsonschema:"required,Search query text"`
	Collection          string            `json:"collection,omitempty" jsonschema:"Collection to search; empty searches all collections"`
	Limit               int               `json:"limit,omitempty" jsonschema:"Maximum results (default: 5)"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty" jsonschema:"Minimum cosine similarity in [0,1]"`
	Filter              map[string]string `json:"filter,omitempty" jsonschema:"Exact-match metadata filter"`
	ExpandContext       bool              `json:"expand_context,omitempty" jsonschema:"Return each match's related chunks as expanded context"`
}

type ragQueryInput struct {
	Query               string            `json:"query" jsonschema:"required,Question to answer from the indexed collections"`
	Collection          string            `json:"collection,omitempty" jsonschema:"Collection to search; empty searches all collections"`
	Limit               int               `json:"limit,omitempty" jsonschema:"Maximum source chunks (default: 5)"`
	SimilarityThreshold *float64          `json:"similarity_threshold,omitempty" jsonschema:"Minimum cosine similarity in [0,1]"`
	Filter              map[string]string `json:"filter,omitempty" jsonschema:"Exact-match metadata filter"`
}

func (s *Server) registerSearchTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_collection_vectors",
		Description: "Semantic search over synced collections: query expansion, multi-query fusion, optional reranking and context expansion.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args vectorSearchInput) (*mcp.CallToolResult, *query.SearchResponse, error) {
		ctx, cancel := withTimeout(ctx, s.searchTimeout)
		defer cancel()

		resp, err := s.usecase.VectorSearch(ctx, query.SearchRequest{
			Query:               args.Query,
			Collection:          args.Collection,
			Limit:               args.Limit,
			SimilarityThreshold: args.SimilarityThreshold,
			Filter:              args.Filter,
			ExpandContext:       args.ExpandContext,
		})
		if err != nil {
			return s.failure(ctx, err), nil, nil
		}
		return success(resp), resp, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Answer a question from synced collections using retrieval-augmented generation. Degrades to retrieval-only results without an LLM.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ragQueryInput) (*mcp.CallToolResult, *query.RAGResponse, error) {
		ctx, cancel := withTimeout(ctx, s.ragTimeout)
		defer cancel()

		resp, err := s.usecase.RAGQuery(ctx, query.RAGRequest{
			Query:               args.Query,
			Collection:          args.Collection,
			Limit:               args.Limit,
			SimilarityThreshold: args.SimilarityThreshold,
			Filter:              args.Filter,
		})
		if err != nil {
			return s.failure(ctx, err), nil, nil
		}
		return success(resp), resp, nil
	})
}
