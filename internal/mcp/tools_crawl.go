package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/shelfd/internal/crawl"
	"github.com/fyrsmithlabs/shelfd/internal/store"
)

type extractInput struct {
	URL string `json:"url" jsonschema:"required,Absolute http(s) URL to fetch"`
}

type deepCrawlInput struct {
	URL      string `json:"url" jsonschema:"required,Absolute http(s) start URL"`
	MaxDepth int    `json:"max_depth,omitempty" jsonschema:"Link depth to follow within the host (bounded by server config)"`
	MaxPages int    `json:"max_pages,omitempty" jsonschema:"Maximum pages to fetch (bounded by server config)"`
}

type deepCrawlOutput struct {
	Pages []crawl.Page `json:"pages"`
	Count int          `json:"count"`
}

type crawlToCollectionInput struct {
	URL        string `json:"url" jsonschema:"required,Absolute http(s) URL to fetch"`
	Collection string `json:"collection" jsonschema:"required,Collection to save the page into"`
	Folder     string `json:"folder,omitempty" jsonschema:"Folder inside the collection"`
}

type crawledFileOutput struct {
	File *store.File `json:"file"`
}

func (s *Server) registerCrawlTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "web_content_extract",
		Description: "Fetch one URL and extract readable content as markdown-flavored text.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args extractInput) (*mcp.CallToolResult, *crawl.Page, error) {
		page, err := s.usecase.ExtractPage(ctx, args.URL)
		if err != nil {
			return s.failure(ctx, err), nil, nil
		}
		return success(page), page, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "domain_deep_crawl",
		Description: "Breadth-first crawl of same-host links from a start URL, bounded by depth and page count.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deepCrawlInput) (*mcp.CallToolResult, deepCrawlOutput, error) {
		pages, err := s.usecase.DeepCrawl(ctx, args.URL, args.MaxDepth, args.MaxPages)
		if err != nil {
			return s.failure(ctx, err), deepCrawlOutput{}, nil
		}
		out := deepCrawlOutput{Pages: pages, Count: len(pages)}
		return success(out), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "domain_link_preview",
		Description: "List a page's outgoing links, split into same-host and external.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args extractInput) (*mcp.CallToolResult, *crawl.LinkPreview, error) {
		preview, err := s.usecase.PreviewLinks(ctx, args.URL)
		if err != nil {
			return s.failure(ctx, err), nil, nil
		}
		return success(preview), preview, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "crawl_single_page_to_collection",
		Description: "Fetch one URL, extract its content, and save it as a markdown file in a collection with the source URL recorded.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args crawlToCollectionInput) (*mcp.CallToolResult, crawledFileOutput, error) {
		file, err := s.usecase.CrawlIntoCollection(ctx, args.Collection, args.Folder, args.URL)
		if err != nil {
			return s.failure(ctx, err), crawledFileOutput{}, nil
		}
		file.Content = ""
		out := crawledFileOutput{File: file}
		return success(out), out, nil
	})
}
