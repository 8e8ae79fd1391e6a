package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/shelfd/internal/store"
)

type saveFileInput struct {
	Collection string `json:"collection" jsonschema:"required,Collection identifier"`
	Folder     string `json:"folder,omitempty" jsonschema:"Relative folder path inside the collection"`
	Filename   string `json:"filename" jsonschema:"required,File name with an allowed text extension (.md, .txt, or .json)"`
	Content    string `json:"content" jsonschema:"required,UTF-8 file content"`
	SourceURL  string `json:"source_url,omitempty" jsonschema:"Where the content came from, if crawled"`
}

type fileOutput struct {
	File *store.File `json:"file"`
}

type readFileInput struct {
	Collection string `json:"collection" jsonschema:"required,Collection identifier"`
	Folder     string `json:"folder,omitempty" jsonschema:"Relative folder path inside the collection"`
	Filename   string `json:"filename" jsonschema:"required,File name"`
}

type listFilesOutput struct {
	Files []store.File `json:"files"`
	Count int          `json:"count"`
}

func (s *Server) registerFileTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_to_collection",
		Description: "Save (create or replace) a file in a collection. Content is stored byte exact.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args saveFileInput) (*mcp.CallToolResult, fileOutput, error) {
		file, err := s.usecase.SaveFile(ctx, args.Collection, args.Folder, args.Filename, args.Content, args.SourceURL)
		if err != nil {
			return s.failure(ctx, err), fileOutput{}, nil
		}
		// Content already round-tripped to the caller; keep the reply small.
		file.Content = ""
		out := fileOutput{File: file}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read_from_collection",
		Description: "Read a file from a collection, returning its exact content.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readFileInput) (*mcp.CallToolResult, fileOutput, error) {
		file, err := s.usecase.ReadFile(ctx, args.Collection, args.Folder, args.Filename)
		if err != nil {
			return s.failure(ctx, err), fileOutput{}, nil
		}
		out := fileOutput{File: file}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_files_in_collection",
		Description: "List a collection's files (metadata only, no content).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionIDInput) (*mcp.CallToolResult, listFilesOutput, error) {
		files, err := s.usecase.ListFiles(ctx, args.Collection)
		if err != nil {
			return s.failure(ctx, err), listFilesOutput{}, nil
		}
		out := listFilesOutput{Files: files, Count: len(files)}
		return success(out), out, nil
	})
}
