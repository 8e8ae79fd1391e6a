package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

type backendCase struct {
	name  string
	store CollectionStore
}

func newBackends(t *testing.T) []backendCase {
	t.Helper()

	sqlStore, err := OpenSQLStore(filepath.Join(t.TempDir(), "collections.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	fsStore, err := OpenFSStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { fsStore.Close() })

	return []backendCase{
		{"embedded_db", sqlStore},
		{"filesystem", fsStore},
	}
}

func TestCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			c, err := bc.store.CreateCollection(ctx, "My Docs", "personal notes", map[string]any{"team": "core"})
			require.NoError(t, err)
			assert.Equal(t, "my_docs", c.ID)
			assert.Equal(t, "My Docs", c.Name)
			assert.False(t, c.CreatedAt.IsZero())

			_, err = bc.store.CreateCollection(ctx, "My Docs", "", nil)
			require.Error(t, err)
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
			assert.Equal(t, "collection_exists", apperr.CodeOf(err))

			got, err := bc.store.GetCollection(ctx, "my_docs")
			require.NoError(t, err)
			assert.Equal(t, "personal notes", got.Description)
			assert.Equal(t, "core", got.Metadata["team"])

			list, err := bc.store.ListCollections(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)

			require.NoError(t, bc.store.DeleteCollection(ctx, "my_docs"))

			_, err = bc.store.GetCollection(ctx, "my_docs")
			require.Error(t, err)
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

			err = bc.store.DeleteCollection(ctx, "my_docs")
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		})
	}
}

func TestCollectionNameValidation(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			for _, bad := range []string{"", "a/b", "../escape"} {
				_, err := bc.store.CreateCollection(ctx, bad, "", nil)
				require.Error(t, err, bad)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			}
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	content := "# Héllo\n\nsome *markdown* with unicode ✓ and\ttabs\n"

	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			_, err := bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)

			saved, err := bc.store.SaveFile(ctx, "docs", "guides", "intro.md", content, "https://example.com/intro")
			require.NoError(t, err)
			assert.NotEmpty(t, saved.ID)
			assert.Equal(t, HashContent(content), saved.ContentHash)
			assert.Equal(t, int64(len(content)), saved.Size)

			got, err := bc.store.ReadFile(ctx, "docs", "guides", "intro.md")
			require.NoError(t, err)
			assert.Equal(t, content, got.Content, "content must round-trip byte for byte")
			assert.Equal(t, "https://example.com/intro", got.SourceURL)
			assert.Equal(t, "guides/intro.md", got.Key())

			// Counters reflect the save.
			c, err := bc.store.GetCollection(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, 1, c.FileCount)
			assert.Equal(t, int64(len(content)), c.TotalSize)

			// Saving the same key again replaces, not duplicates.
			_, err = bc.store.SaveFile(ctx, "docs", "guides", "intro.md", "replaced", "")
			require.NoError(t, err)
			c, err = bc.store.GetCollection(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, 1, c.FileCount)
			assert.Equal(t, int64(len("replaced")), c.TotalSize)

			list, err := bc.store.ListFiles(ctx, "docs")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Empty(t, list[0].Content, "listing must not carry content")

			require.NoError(t, bc.store.DeleteFile(ctx, "docs", "guides", "intro.md"))

			_, err = bc.store.ReadFile(ctx, "docs", "guides", "intro.md")
			require.Error(t, err)
			assert.Equal(t, "file_not_found", apperr.CodeOf(err))

			c, err = bc.store.GetCollection(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, 0, c.FileCount)
			assert.Equal(t, int64(0), c.TotalSize)
		})
	}
}

func TestUpdateFileRequiresExisting(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			_, err := bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)

			_, err = bc.store.UpdateFile(ctx, "docs", "", "missing.md", "body")
			require.Error(t, err)
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

			_, err = bc.store.SaveFile(ctx, "docs", "", "present.md", "v1", "")
			require.NoError(t, err)

			updated, err := bc.store.UpdateFile(ctx, "docs", "", "present.md", "v2")
			require.NoError(t, err)
			assert.Equal(t, HashContent("v2"), updated.ContentHash)
		})
	}
}

func TestFileValidation(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			_, err := bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)

			cases := []struct {
				folder, name string
			}{
				{"", "evil.sh"},
				{"", "../up.md"},
				{"../outside", "a.md"},
				{"/abs", "a.md"},
				{"", ""},
			}
			for _, tc := range cases {
				_, err := bc.store.SaveFile(ctx, "docs", tc.folder, tc.name, "x", "")
				require.Error(t, err, "%s/%s", tc.folder, tc.name)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			}

			_, err = bc.store.SaveFile(ctx, "nope", "", "a.md", "x", "")
			require.Error(t, err)
			assert.Equal(t, "collection_not_found", apperr.CodeOf(err))
		})
	}
}

func TestSyncStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			_, err := bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)

			status, err := bc.store.GetSyncStatus(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, SyncStateNeverSynced, status.State)
			assert.False(t, status.Enabled)

			now := time.Now().UTC()
			status.Enabled = true
			status.State = SyncStateInSync
			status.ChunkCount = 12
			status.LastSync = &now
			status.Snapshots = map[string]string{"a.md": HashContent("a")}
			status.Fingerprint = "nomic-embed-text:768"
			require.NoError(t, bc.store.PutSyncStatus(ctx, status))

			got, err := bc.store.GetSyncStatus(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, SyncStateInSync, got.State)
			assert.Equal(t, 12, got.ChunkCount)
			assert.Equal(t, HashContent("a"), got.Snapshots["a.md"])
			assert.Equal(t, "nomic-embed-text:768", got.Fingerprint)

			all, err := bc.store.ListSyncStatuses(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)

			_, err = bc.store.GetSyncStatus(ctx, "missing")
			require.Error(t, err)
			assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		})
	}
}

func TestPendingVectorDeletes(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			require.NoError(t, bc.store.AddPendingVectorDelete(ctx, "docs"))
			require.NoError(t, bc.store.AddPendingVectorDelete(ctx, "docs"))
			require.NoError(t, bc.store.AddPendingVectorDelete(ctx, "other"))

			ids, err := bc.store.TakePendingVectorDeletes(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"docs", "other"}, ids)

			ids, err = bc.store.TakePendingVectorDeletes(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestDeleteCollectionCascades(t *testing.T) {
	ctx := context.Background()
	for _, bc := range newBackends(t) {
		t.Run(bc.name, func(t *testing.T) {
			_, err := bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)
			_, err = bc.store.SaveFile(ctx, "docs", "", "a.md", "a", "")
			require.NoError(t, err)
			require.NoError(t, bc.store.PutSyncStatus(ctx, &SyncStatus{
				CollectionID: "docs", State: SyncStateInSync,
			}))

			require.NoError(t, bc.store.DeleteCollection(ctx, "docs"))

			// Recreating starts from a clean slate.
			_, err = bc.store.CreateCollection(ctx, "docs", "", nil)
			require.NoError(t, err)
			files, err := bc.store.ListFiles(ctx, "docs")
			require.NoError(t, err)
			assert.Empty(t, files)
			status, err := bc.store.GetSyncStatus(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, SyncStateNeverSynced, status.State)
		})
	}
}

func TestFSReconcileExternalChanges(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := OpenFSStore(root, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = s.SaveFile(ctx, "docs", "", "managed.md", "managed", "")
	require.NoError(t, err)

	// File created behind the store's back.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "drafts", "new.md"), []byte("external"), 0o644))
	// Ineligible files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "script.sh"), []byte("#!/bin/sh"), 0o644))

	require.NoError(t, s.ReconcileCollection(ctx, "docs"))

	files, err := s.ListFiles(ctx, "docs")
	require.NoError(t, err)
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Key())
	}
	assert.ElementsMatch(t, []string{"managed.md", "drafts/new.md"}, keys)

	got, err := s.ReadFile(ctx, "docs", "drafts", "new.md")
	require.NoError(t, err)
	assert.Equal(t, "external", got.Content)

	// External modification updates the hash on reconcile.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "managed.md"), []byte("edited"), 0o644))
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	got, err = s.ReadFile(ctx, "docs", "", "managed.md")
	require.NoError(t, err)
	assert.Equal(t, HashContent("edited"), got.ContentHash)

	// External removal drops the index row.
	require.NoError(t, os.Remove(filepath.Join(root, "docs", "drafts", "new.md")))
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	_, err = s.ReadFile(ctx, "docs", "drafts", "new.md")
	require.Error(t, err)
	assert.Equal(t, "file_not_found", apperr.CodeOf(err))
}

func TestFSReconcileMarksOutOfSync(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := OpenFSStore(root, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = s.SaveFile(ctx, "docs", "", "a.md", "v1", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.PutSyncStatus(ctx, &SyncStatus{
		CollectionID: "docs",
		Enabled:      true,
		State:        SyncStateInSync,
		LastSync:     &now,
		Snapshots:    map[string]string{"a.md": HashContent("v1")},
	}))

	// Untouched disk keeps the settled state.
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	status, err := s.GetSyncStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, SyncStateInSync, status.State)

	// An external edit flags the file and flips the collection.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("v2 external"), 0o644))
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	status, err = s.GetSyncStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, SyncStateOutOfSync, status.State)
	assert.Equal(t, []string{"a.md"}, status.ChangedKeys)
	assert.Equal(t, 1, status.ChangedFiles)

	// Restoring the synced content settles it back.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("v1"), 0o644))
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	status, err = s.GetSyncStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, SyncStateInSync, status.State)
	assert.Empty(t, status.ChangedKeys)

	// An external removal counts as divergence too.
	require.NoError(t, os.Remove(filepath.Join(root, "docs", "a.md")))
	require.NoError(t, s.ReconcileCollection(ctx, "docs"))
	status, err = s.GetSyncStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, SyncStateOutOfSync, status.State)
	assert.Equal(t, []string{"a.md"}, status.ChangedKeys)

	// A collection that never synced stays never_synced no matter what
	// the reconciler sees.
	_, err = s.CreateCollection(ctx, "fresh", "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "fresh", "b.md"), []byte("new"), 0o644))
	require.NoError(t, s.ReconcileCollection(ctx, "fresh"))
	status, err = s.GetSyncStatus(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, SyncStateNeverSynced, status.State)
}

func TestFSReadRepairsStaleIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := OpenFSStore(root, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateCollection(ctx, "docs", "", nil)
	require.NoError(t, err)
	_, err = s.SaveFile(ctx, "docs", "", "a.md", "v1", "")
	require.NoError(t, err)

	// Edit behind the store's back; ReadFile repairs without a reconcile.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("v2"), 0o644))

	got, err := s.ReadFile(ctx, "docs", "", "a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, HashContent("v2"), got.ContentHash)
}

func TestFSAdoptsExternalCollection(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := OpenFSStore(root, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "imported"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "imported", "a.txt"), []byte("hello"), 0o644))

	require.NoError(t, s.ReconcileAll(ctx))

	c, err := s.GetCollection(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, 1, c.FileCount)
}
