package vsync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
)

type fixture struct {
	store       store.CollectionStore
	vectors     vectorstore.Store
	coordinator *Coordinator
}

func newFixture(t *testing.T, embedder embeddings.Provider) *fixture {
	t.Helper()

	cs, err := store.OpenSQLStore(filepath.Join(t.TempDir(), "collections.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	vs, err := vectorstore.NewChromemStore(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	chunker := chunking.New(chunking.Config{PreserveCodeBlocks: true})
	coord := New(cs, vs, embedder, chunker, config.SyncConfig{MaxFileConcurrency: 2}, logging.NewNop())

	return &fixture{store: cs, vectors: vs, coordinator: coord}
}

const (
	contentA = "# Alpha\n\nFirst document body with enough words to chunk once.\n"
	contentB = "# Beta\n\nSecond document body.\n\n- item one\n- item two\n"
)

func seedCollection(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = f.store.SaveFile(ctx, "docs", "", "a.md", contentA, "")
	require.NoError(t, err)
	_, err = f.store.SaveFile(ctx, "docs", "", "b.md", contentB, "")
	require.NoError(t, err)
}

func TestSyncRequiresEnable(t *testing.T) {
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	_, err := f.coordinator.Sync(context.Background(), "docs")
	require.Error(t, err)
	assert.Equal(t, "sync_not_enabled", apperr.CodeOf(err))
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	status, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, store.SyncStateNeverSynced, status.State)

	status, err = f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)

	assert.Equal(t, store.SyncStateInSync, status.State)
	assert.Equal(t, 2, status.FilesProcessed)
	assert.Equal(t, 2, status.FileCount)
	assert.NotNil(t, status.LastSync)
	assert.Empty(t, status.FileErrors)
	assert.Equal(t, store.HashContent(contentA), status.Snapshots["a.md"])
	assert.Equal(t, store.HashContent(contentB), status.Snapshots["b.md"])

	count, err := f.vectors.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, status.ChunkCount, count)
	assert.Greater(t, count, 0)
}

func TestIncrementalSyncOnlyChangedFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	_, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)
	_, err = f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)

	// Unchanged input is a no-op sync.
	status, err := f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, status.FilesProcessed)
	assert.Equal(t, 0, status.ChangedFiles)
	assert.Equal(t, store.SyncStateInSync, status.State)

	// Modify a.md only.
	newA := "# Alpha\n\nRewritten body, different hash.\n"
	_, err = f.store.SaveFile(ctx, "docs", "", "a.md", newA, "")
	require.NoError(t, err)

	status, err = f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, status.FilesProcessed, "only the changed file is reprocessed")
	assert.Equal(t, 1, status.ChangedFiles)
	assert.Equal(t, store.HashContent(newA), status.Snapshots["a.md"])
	assert.Equal(t, store.HashContent(contentB), status.Snapshots["b.md"],
		"untouched snapshot must not move")
}

func TestSyncRemovesDeletedFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	_, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)
	first, err := f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteFile(ctx, "docs", "", "b.md"))

	status, err := f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ChangedFiles)
	assert.Equal(t, 0, status.FilesProcessed)
	_, stillThere := status.Snapshots["b.md"]
	assert.False(t, stillThere)
	assert.Less(t, status.ChunkCount, first.ChunkCount,
		"removed file's chunks leave the index")
}

func TestFingerprintChangeForcesFullReembed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	_, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)
	_, err = f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)

	// Same files, new model.
	f.coordinator.embedder = embeddings.NewMock(64)

	status, err := f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, status.FilesProcessed, "model change re-embeds everything")
	assert.Equal(t, "mock:64", status.Fingerprint)
	assert.Equal(t, store.SyncStateInSync, status.State)
}

func TestConcurrentSyncConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)
	_, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)

	require.True(t, f.coordinator.acquire("docs"))
	defer f.coordinator.release("docs")

	_, err = f.coordinator.Sync(ctx, "docs")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "sync_in_progress", apperr.CodeOf(err))
}

func TestDisableKeepsIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	_, err := f.coordinator.Enable(ctx, "docs")
	require.NoError(t, err)
	first, err := f.coordinator.Sync(ctx, "docs")
	require.NoError(t, err)
	require.Greater(t, first.ChunkCount, 0)

	status, err := f.coordinator.Disable(ctx, "docs")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	count, err := f.vectors.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, count, "disable must not purge the index")

	_, err = f.coordinator.Sync(ctx, "docs")
	assert.Equal(t, "sync_not_enabled", apperr.CodeOf(err))
}

// failingVectors wraps a Store and fails DeleteCollection.
type failingVectors struct {
	vectorstore.Store
}

func (f *failingVectors) DeleteCollection(ctx context.Context, collection string) error {
	return apperr.E(apperr.KindUnavailable, "vector_store_unavailable", "down for maintenance")
}

func TestDropCollectionDefersWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, embeddings.NewMock(32))
	seedCollection(t, f)

	f.coordinator.vectors = &failingVectors{Store: f.vectors}
	require.NoError(t, f.coordinator.DropCollection(ctx, "docs"))

	pending, err := f.store.TakePendingVectorDeletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, pending)
}
