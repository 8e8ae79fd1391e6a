// Package usecase implements the operations exposed by both protocol
// adapters. The MCP tools and the HTTP handlers call the same methods,
// so both surfaces observe identical state and failure semantics.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/crawl"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/query"
	"github.com/fyrsmithlabs/shelfd/internal/sanitize"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vsync"
)

// Service bundles the domain components behind the adapter-facing
// operations.
type Service struct {
	store    store.CollectionStore
	sync     *vsync.Coordinator
	pipeline *query.Pipeline
	crawler  *crawl.Crawler
	logger   *logging.Logger
}

// New wires the use-case layer.
func New(cs store.CollectionStore, coordinator *vsync.Coordinator, pipeline *query.Pipeline, crawler *crawl.Crawler, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:    cs,
		sync:     coordinator,
		pipeline: pipeline,
		crawler:  crawler,
		logger:   logger,
	}
}

// CollectionInfo joins a collection with its sync status.
type CollectionInfo struct {
	Collection store.Collection  `json:"collection"`
	SyncStatus *store.SyncStatus `json:"sync_status,omitempty"`
}

// CreateCollection creates an empty collection.
func (s *Service) CreateCollection(ctx context.Context, name, description string, metadata map[string]any) (*store.Collection, error) {
	return s.store.CreateCollection(ctx, name, description, metadata)
}

// ListCollections returns every collection.
func (s *Service) ListCollections(ctx context.Context) ([]store.Collection, error) {
	return s.store.ListCollections(ctx)
}

// GetCollection returns one collection with its sync status.
func (s *Service) GetCollection(ctx context.Context, id string) (*CollectionInfo, error) {
	col, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := s.store.GetSyncStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{Collection: *col, SyncStatus: status}, nil
}

// DeleteCollection removes the collection, its files, and its vector
// records. Vector cleanup is deferred if the vector store is down.
func (s *Service) DeleteCollection(ctx context.Context, id string) error {
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		return err
	}
	return s.sync.DropCollection(ctx, id)
}

// SaveFile upserts a file by (collection, folder, name).
func (s *Service) SaveFile(ctx context.Context, collectionID, folder, name, content, sourceURL string) (*store.File, error) {
	return s.store.SaveFile(ctx, collectionID, folder, name, content, sourceURL)
}

// ReadFile returns a file including content.
func (s *Service) ReadFile(ctx context.Context, collectionID, folder, name string) (*store.File, error) {
	return s.store.ReadFile(ctx, collectionID, folder, name)
}

// UpdateFile replaces the content of an existing file.
func (s *Service) UpdateFile(ctx context.Context, collectionID, folder, name, content string) (*store.File, error) {
	return s.store.UpdateFile(ctx, collectionID, folder, name, content)
}

// DeleteFile removes a file; its chunks leave the index on next sync.
func (s *Service) DeleteFile(ctx context.Context, collectionID, folder, name string) error {
	return s.store.DeleteFile(ctx, collectionID, folder, name)
}

// ListFiles returns the collection's file metadata without content.
func (s *Service) ListFiles(ctx context.Context, collectionID string) ([]store.File, error) {
	return s.store.ListFiles(ctx, collectionID)
}

// EnableSync turns sync on for a collection.
func (s *Service) EnableSync(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	return s.sync.Enable(ctx, collectionID)
}

// DisableSync turns sync off; indexed vectors stay queryable.
func (s *Service) DisableSync(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	return s.sync.Disable(ctx, collectionID)
}

// SyncNow runs one incremental sync.
func (s *Service) SyncNow(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	return s.sync.Sync(ctx, collectionID)
}

// SyncStatus returns the collection's sync record.
func (s *Service) SyncStatus(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	return s.sync.Status(ctx, collectionID)
}

// ListSyncStatuses returns every sync record.
func (s *Service) ListSyncStatuses(ctx context.Context) ([]store.SyncStatus, error) {
	return s.sync.Statuses(ctx)
}

// DeleteVectors drops the collection's vector records and resets its
// sync record to never synced. Files are untouched.
func (s *Service) DeleteVectors(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	if err := s.sync.DropCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	status, err := s.sync.Status(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	status.State = store.SyncStateNeverSynced
	status.ChunkCount = 0
	status.Snapshots = nil
	status.Fingerprint = ""
	if err := s.store.PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

// VectorSearch runs the retrieval pipeline.
func (s *Service) VectorSearch(ctx context.Context, req query.SearchRequest) (*query.SearchResponse, error) {
	return s.pipeline.Search(ctx, req)
}

// RAGQuery runs retrieval-augmented generation.
func (s *Service) RAGQuery(ctx context.Context, req query.RAGRequest) (*query.RAGResponse, error) {
	return s.pipeline.RAG(ctx, req)
}

// ExtractPage fetches one URL and extracts readable content.
func (s *Service) ExtractPage(ctx context.Context, url string) (*crawl.Page, error) {
	return s.crawler.ExtractOne(ctx, url)
}

// DeepCrawl walks same-host links from the start URL within bounds.
func (s *Service) DeepCrawl(ctx context.Context, url string, maxDepth, maxPages int) ([]crawl.Page, error) {
	return s.crawler.DeepCrawl(ctx, url, maxDepth, maxPages)
}

// PreviewLinks lists a page's outgoing links.
func (s *Service) PreviewLinks(ctx context.Context, url string) (*crawl.LinkPreview, error) {
	return s.crawler.PreviewLinks(ctx, url)
}

// CrawlIntoCollection extracts one URL and saves it as a markdown file
// in the collection, recording the source URL.
func (s *Service) CrawlIntoCollection(ctx context.Context, collectionID, folder, url string) (*store.File, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	page, err := s.crawler.ExtractOne(ctx, url)
	if err != nil {
		return nil, err
	}

	content := fmt.Sprintf("# %s\n\n%s\n", page.Title, page.Content)
	name := crawlFileName(page)
	file, err := s.store.SaveFile(ctx, collectionID, folder, name, content, page.URL)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "page crawled into collection",
		zap.String("url", page.URL),
		zap.String("file", file.Key()),
	)
	return file, nil
}

// crawlFileName derives a stable markdown filename from the page title,
// falling back to the URL when the title yields nothing usable.
func crawlFileName(page *crawl.Page) string {
	slug := sanitize.Identifier(page.Title)
	if slug == "" {
		slug = sanitize.Identifier(page.URL)
	}
	if slug == "" {
		slug = "page"
	}
	return slug + ".md"
}

// Close releases the storage layer.
func (s *Service) Close() error {
	if err := s.store.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "closing store", err)
	}
	return nil
}
