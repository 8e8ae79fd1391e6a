package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/usecase"
)

type createCollectionInput struct {
	Name        string         `json:"name" jsonschema:"required,Collection name; becomes a sanitized identifier"`
	Description string         `json:"description,omitempty" jsonschema:"Human readable description"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary key/value metadata"`
}

type collectionOutput struct {
	Collection *store.Collection `json:"collection"`
}

type listCollectionsOutput struct {
	Collections []store.Collection `json:"collections"`
	Count       int                `json:"count"`
}

type collectionIDInput struct {
	Collection string `json:"collection" jsonschema:"required,Collection identifier"`
}

type deletedOutput struct {
	Success bool   `json:"success"`
	Deleted string `json:"deleted"`
}

func (s *Server) registerCollectionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_collection",
		Description: "Create a new file collection. The name is sanitized into a stable identifier.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args createCollectionInput) (*mcp.CallToolResult, collectionOutput, error) {
		col, err := s.usecase.CreateCollection(ctx, args.Name, args.Description, args.Metadata)
		if err != nil {
			return s.failure(ctx, err), collectionOutput{}, nil
		}
		out := collectionOutput{Collection: col}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_file_collections",
		Description: "List all file collections with file counts and sizes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, listCollectionsOutput, error) {
		cols, err := s.usecase.ListCollections(ctx)
		if err != nil {
			return s.failure(ctx, err), listCollectionsOutput{}, nil
		}
		out := listCollectionsOutput{Collections: cols, Count: len(cols)}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_collection_info",
		Description: "Get one collection including its vector sync status.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, *usecase.CollectionInfo, error) {
		info, err := s.usecase.GetCollection(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), nil, nil
		}
		return success(info), info, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_file_collection",
		Description: "Delete a collection, its files, and its indexed vectors.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, deletedOutput, error) {
		if err := s.usecase.DeleteCollection(ctx, args.Collection); err != nil {
			return s.failure(ctx, err), deletedOutput{}, nil
		}
		out := deletedOutput{Success: true, Deleted: args.Collection}
		return success(out), out, nil
	})
}
