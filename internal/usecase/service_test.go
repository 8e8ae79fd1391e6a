package usecase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/crawl"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/query"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
	"github.com/fyrsmithlabs/shelfd/internal/vsync"
)

func newService(t *testing.T) (*Service, vectorstore.Store) {
	t.Helper()

	cs, err := store.OpenSQLStore(filepath.Join(t.TempDir(), "collections.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	vs, err := vectorstore.NewChromemStore(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)

	embedder := embeddings.NewMock(32)
	chunker := chunking.New(chunking.Config{})
	coordinator := vsync.New(cs, vs, embedder, chunker, config.SyncConfig{}, nil)
	pipeline := query.New(cs, vs, embedder, nil, nil, config.QueryConfig{
		MaxQueryVariants:   3,
		RerankingThreshold: 8,
		ExpansionCacheTTL:  config.Duration(time.Minute),
		RAGTokenBudget:     4000,
	}, nil)
	crawler := crawl.New(config.CrawlConfig{
		UserAgent:    "shelfd-test/1.0",
		FetchTimeout: config.Duration(5 * time.Second),
		MaxDepth:     2,
		MaxPages:     10,
	}, nil)

	return New(cs, coordinator, pipeline, crawler, nil), vs
}

func TestCollectionAndFileLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	col, err := svc.CreateCollection(ctx, "notes", "personal notes", nil)
	require.NoError(t, err)

	_, err = svc.SaveFile(ctx, col.ID, "", "a.md", "# Alpha\n", "")
	require.NoError(t, err)

	info, err := svc.GetCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Collection.FileCount)
	require.NotNil(t, info.SyncStatus)
	assert.Equal(t, store.SyncStateNeverSynced, info.SyncStatus.State)

	_, err = svc.UpdateFile(ctx, col.ID, "", "a.md", "# Alpha v2\n")
	require.NoError(t, err)
	file, err := svc.ReadFile(ctx, col.ID, "", "a.md")
	require.NoError(t, err)
	assert.Equal(t, "# Alpha v2\n", file.Content)

	_, err = svc.UpdateFile(ctx, col.ID, "", "missing.md", "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, svc.DeleteFile(ctx, col.ID, "", "a.md"))
	files, err := svc.ListFiles(ctx, col.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, svc.DeleteCollection(ctx, col.ID))
	_, err = svc.GetCollection(ctx, col.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSyncAndSearchThroughService(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	col, err := svc.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = svc.SaveFile(ctx, col.ID, "", "guide.md",
		"# Guide\n\nVector search ranks chunks by cosine similarity.\n", "")
	require.NoError(t, err)

	_, err = svc.EnableSync(ctx, col.ID)
	require.NoError(t, err)
	status, err := svc.SyncNow(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateInSync, status.State)
	assert.Greater(t, status.ChunkCount, 0)

	resp, err := svc.VectorSearch(ctx, query.SearchRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: col.ID,
		Limit:      3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Text, "cosine similarity")

	rag, err := svc.RAGQuery(ctx, query.RAGRequest{
		Query:      "Vector search ranks chunks by cosine similarity.",
		Collection: col.ID,
	})
	require.NoError(t, err)
	assert.True(t, rag.Degraded, "no llm configured")
	assert.Nil(t, rag.Answer)
	assert.NotEmpty(t, rag.Sources)
}

func TestDeleteVectorsResetsStatus(t *testing.T) {
	ctx := context.Background()
	svc, vs := newService(t)

	col, err := svc.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = svc.SaveFile(ctx, col.ID, "", "a.md", "# A\n\nbody text here\n", "")
	require.NoError(t, err)
	_, err = svc.EnableSync(ctx, col.ID)
	require.NoError(t, err)
	_, err = svc.SyncNow(ctx, col.ID)
	require.NoError(t, err)

	status, err := svc.DeleteVectors(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SyncStateNeverSynced, status.State)
	assert.Zero(t, status.ChunkCount)
	assert.Empty(t, status.Snapshots)

	count, err := vs.Count(ctx, col.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Files survive a vector reset.
	files, err := svc.ListFiles(ctx, col.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCrawlIntoCollection(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Install Guide</title></head>
<body><main><h2>Steps</h2><p>Download the binary.</p></main></body></html>`)
	}))
	defer srv.Close()

	col, err := svc.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)

	file, err := svc.CrawlIntoCollection(ctx, col.ID, "crawled", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "install_guide.md", file.Name)
	assert.Equal(t, "crawled", file.FolderPath)
	assert.Equal(t, srv.URL, file.SourceURL)

	saved, err := svc.ReadFile(ctx, col.ID, "crawled", file.Name)
	require.NoError(t, err)
	assert.Contains(t, saved.Content, "# Install Guide")
	assert.Contains(t, saved.Content, "Download the binary.")
}

func TestCrawlIntoMissingCollection(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CrawlIntoCollection(context.Background(), "nope", "", "https://example.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
