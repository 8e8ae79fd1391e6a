package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/shelfd/internal/store"
)

type syncStatusOutput struct {
	Status *store.SyncStatus `json:"status"`
}

type syncStatusesOutput struct {
	Statuses []store.SyncStatus `json:"statuses"`
	Count    int                `json:"count"`
}

func (s *Server) registerSyncTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "enable_collection_sync",
		Description: "Enable vector sync for a collection. Files are indexed on the next sync_collection call.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		status, err := s.usecase.EnableSync(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), syncStatusOutput{}, nil
		}
		out := syncStatusOutput{Status: status}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "disable_collection_sync",
		Description: "Disable vector sync for a collection. Already indexed vectors stay queryable.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		status, err := s.usecase.DisableSync(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), syncStatusOutput{}, nil
		}
		out := syncStatusOutput{Status: status}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_collection",
		Description: "Run one incremental sync: changed files are re-chunked and re-embedded, removed files leave the index.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		status, err := s.usecase.SyncNow(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), syncStatusOutput{}, nil
		}
		out := syncStatusOutput{Status: status}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_collection_sync_status",
		Description: "Get a collection's sync state, progress counters, and per-file errors.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		status, err := s.usecase.SyncStatus(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), syncStatusOutput{}, nil
		}
		out := syncStatusOutput{Status: status}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collection_sync_statuses",
		Description: "List sync status for every collection that has one.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, syncStatusesOutput, error) {
		statuses, err := s.usecase.ListSyncStatuses(ctx)
		if err != nil {
			return s.failure(ctx, err), syncStatusesOutput{}, nil
		}
		out := syncStatusesOutput{Statuses: statuses, Count: len(statuses)}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_collection_vectors",
		Description: "Delete a collection's indexed vectors and reset its sync state. Files are untouched.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		status, err := s.usecase.DeleteVectors(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), syncStatusOutput{}, nil
		}
		out := syncStatusOutput{Status: status}
		return success(out), out, nil
	})
}
