// Package vsync brings vector indexes into agreement with collection
// files. Syncs are user triggered and incremental: only files whose
// content hash moved since the last successful sync are re-chunked and
// re-embedded.
package vsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
)

// Coordinator owns the per-collection sync lifecycle.
type Coordinator struct {
	store    store.CollectionStore
	vectors  vectorstore.Store
	embedder embeddings.Provider
	chunker  *chunking.Engine
	cfg      config.SyncConfig
	logger   *logging.Logger

	mu    sync.Mutex
	locks map[string]*collectionLock
}

type collectionLock struct {
	busy chan struct{}
}

// New creates a coordinator.
func New(cs store.CollectionStore, vs vectorstore.Store, embedder embeddings.Provider, chunker *chunking.Engine, cfg config.SyncConfig, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:    cs,
		vectors:  vs,
		embedder: embedder,
		chunker:  chunker,
		cfg:      cfg,
		logger:   logger,
		locks:    map[string]*collectionLock{},
	}
}

// acquire takes the per-collection lock without blocking; a held lock
// means a sync is already running.
func (c *Coordinator) acquire(collectionID string) bool {
	c.mu.Lock()
	lock, ok := c.locks[collectionID]
	if !ok {
		lock = &collectionLock{busy: make(chan struct{}, 1)}
		c.locks[collectionID] = lock
	}
	c.mu.Unlock()

	select {
	case lock.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Coordinator) release(collectionID string) {
	c.mu.Lock()
	lock := c.locks[collectionID]
	c.mu.Unlock()
	<-lock.busy
}

// Enable turns sync on for a collection, creating its status record.
func (c *Coordinator) Enable(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	status, err := c.store.GetSyncStatus(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	status.Enabled = true
	if err := c.store.PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

// Disable turns sync off; index contents stay as they are.
func (c *Coordinator) Disable(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	status, err := c.store.GetSyncStatus(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	status.Enabled = false
	if err := c.store.PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

// Status returns the current sync status.
func (c *Coordinator) Status(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	return c.store.GetSyncStatus(ctx, collectionID)
}

// Statuses returns every stored status.
func (c *Coordinator) Statuses(ctx context.Context) ([]store.SyncStatus, error) {
	return c.store.ListSyncStatuses(ctx)
}

// DropCollection removes the collection's vector records, deferring the
// cleanup when the vector store is unavailable.
func (c *Coordinator) DropCollection(ctx context.Context, collectionID string) error {
	if err := c.vectors.DeleteCollection(ctx, collectionID); err != nil {
		c.logger.Warn(ctx, "vector cleanup deferred",
			zap.String("collection", collectionID), zap.Error(err))
		return c.store.AddPendingVectorDelete(ctx, collectionID)
	}
	return nil
}

// drainPendingDeletes retries vector cleanups deferred by earlier
// collection deletions.
func (c *Coordinator) drainPendingDeletes(ctx context.Context) {
	ids, err := c.store.TakePendingVectorDeletes(ctx)
	if err != nil {
		c.logger.Warn(ctx, "reading pending vector deletes failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := c.vectors.DeleteCollection(ctx, id); err != nil {
			c.logger.Warn(ctx, "vector cleanup still failing",
				zap.String("collection", id), zap.Error(err))
			_ = c.store.AddPendingVectorDelete(ctx, id)
		}
	}
}

// Sync runs one incremental sync for the collection.
func (c *Coordinator) Sync(ctx context.Context, collectionID string) (*store.SyncStatus, error) {
	ctx = logging.WithCollection(ctx, collectionID)

	if !c.acquire(collectionID) {
		return nil, apperr.Errorf(apperr.KindConflict, "sync_in_progress",
			"a sync for collection %q is already running", collectionID)
	}
	defer c.release(collectionID)

	c.drainPendingDeletes(ctx)

	status, err := c.store.GetSyncStatus(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !status.Enabled {
		return nil, apperr.Errorf(apperr.KindValidation, "sync_not_enabled",
			"sync is not enabled for collection %q", collectionID)
	}

	// Filesystem-backed stores reconcile before the snapshot so external
	// edits are visible to the diff.
	if r, ok := c.store.(store.Reconciler); ok {
		if err := r.ReconcileCollection(ctx, collectionID); err != nil {
			c.logger.Warn(ctx, "pre-sync reconciliation failed", zap.Error(err))
		}
	}

	// The file set is snapshotted once; writes landing after this point
	// belong to the next sync.
	files, err := c.store.ListFiles(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	fingerprint := c.embedder.Fingerprint()
	if status.Fingerprint != "" && status.Fingerprint != fingerprint {
		c.logger.Info(ctx, "embedding model changed, full re-embed",
			zap.String("previous", status.Fingerprint),
			zap.String("current", fingerprint),
		)
		if err := c.vectors.DeleteCollection(ctx, collectionID); err != nil {
			return nil, err
		}
		// Re-register the new embedding space before any batch writes.
		if err := c.vectors.SetFingerprint(ctx, collectionID, fingerprint); err != nil {
			return nil, err
		}
		status.Snapshots = nil
	}

	diff := diffFiles(status.Snapshots, files)

	status.State = store.SyncStateSyncing
	status.FileCount = len(files)
	status.ChangedKeys = nil
	status.ChangedFiles = len(diff.added) + len(diff.modified) + len(diff.removed)
	status.FilesTotal = len(diff.added) + len(diff.modified)
	status.FilesProcessed = 0
	status.ChunksProcessed = 0
	status.LastError = ""
	status.FileErrors = nil
	status.Fingerprint = fingerprint
	if status.Snapshots == nil {
		status.Snapshots = map[string]string{}
	}
	if err := c.store.PutSyncStatus(ctx, status); err != nil {
		return nil, err
	}

	run := &syncRun{
		coordinator:  c,
		collectionID: collectionID,
		status:       status,
	}

	if err := run.removeFiles(ctx, diff.removed); err != nil {
		return run.finish(ctx, err)
	}
	err = run.processFiles(ctx, diff.added, diff.modified)
	return run.finish(ctx, err)
}

// fileDiff partitions the current file set against the last-sync
// snapshots.
type fileDiff struct {
	added    []store.File
	modified []store.File
	removed  []string
}

func diffFiles(snapshots map[string]string, files []store.File) fileDiff {
	var diff fileDiff
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		key := f.Key()
		seen[key] = true
		previous, ok := snapshots[key]
		switch {
		case !ok:
			diff.added = append(diff.added, f)
		case previous != f.ContentHash:
			diff.modified = append(diff.modified, f)
		}
	}
	for key := range snapshots {
		if !seen[key] {
			diff.removed = append(diff.removed, key)
		}
	}
	return diff
}

// syncRun carries the mutable state of one sync pass.
type syncRun struct {
	coordinator  *Coordinator
	collectionID string

	mu     sync.Mutex
	status *store.SyncStatus
}

func (r *syncRun) removeFiles(ctx context.Context, removed []string) error {
	c := r.coordinator
	for _, key := range removed {
		if err := ctx.Err(); err != nil {
			return apperr.FromContext(err)
		}
		err := c.vectors.DeleteByFilter(ctx, r.collectionID, map[string]string{"file_key": key})
		if err != nil {
			return err
		}
		r.mu.Lock()
		delete(r.status.Snapshots, key)
		r.mu.Unlock()
	}
	return r.persist(ctx)
}

func (r *syncRun) processFiles(ctx context.Context, added, modified []store.File) error {
	c := r.coordinator

	changed := make([]store.File, 0, len(added)+len(modified))
	changed = append(changed, added...)
	changed = append(changed, modified...)
	if len(changed) == 0 {
		return nil
	}

	concurrency := c.cfg.MaxFileConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, f := range changed {
		file := f
		g.Go(func() error {
			// Cancellation is honored at file boundaries.
			if err := gctx.Err(); err != nil {
				return apperr.FromContext(err)
			}

			chunksProcessed, err := r.processOneFile(gctx, file)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindCancelled {
					return err
				}
				c.logger.Warn(gctx, "file sync failed",
					zap.String("file", file.Key()), zap.Error(err))
				r.mu.Lock()
				if r.status.FileErrors == nil {
					r.status.FileErrors = map[string]string{}
				}
				r.status.FileErrors[file.Key()] = apperr.MessageOf(err)
				r.mu.Unlock()
				return nil
			}

			r.mu.Lock()
			r.status.FilesProcessed++
			r.status.ChunksProcessed += chunksProcessed
			r.status.Snapshots[file.Key()] = file.ContentHash
			r.mu.Unlock()
			return r.persist(gctx)
		})
	}
	return g.Wait()
}

// processOneFile reads, chunks, embeds, and upserts one file, retrying
// transient failures with exponential backoff. The snapshot only moves
// after the upsert commits.
func (r *syncRun) processOneFile(ctx context.Context, file store.File) (int, error) {
	c := r.coordinator

	full, err := c.store.ReadFile(ctx, r.collectionID, file.FolderPath, file.Name)
	if err != nil {
		return 0, err
	}

	chunks := c.chunker.Chunk(chunking.Document{
		CollectionID: r.collectionID,
		FileID:       full.ID,
		FileKey:      full.Key(),
		Content:      full.Content,
	})

	records := make([]vectorstore.Record, 0, len(chunks))
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.cfg.RetryBackoffBase.Duration()
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff << (attempt - 1)):
			case <-ctx.Done():
				return 0, apperr.FromContext(ctx.Err())
			}
		}

		vectors, err := c.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			lastErr = err
			continue
		}

		indexedAt := time.Now().UTC()
		records = records[:0]
		for i := range chunks {
			meta, err := vectorstore.NormalizeChunk(&chunks[i], r.status.Fingerprint, indexedAt)
			if err != nil {
				// A non-normalizable chunk is fatal for that chunk only.
				c.logger.Warn(ctx, "skipping chunk with bad metadata",
					zap.String("chunk", chunks[i].ID), zap.Error(err))
				continue
			}
			records = append(records, vectorstore.Record{
				ChunkID:  chunks[i].ID,
				Text:     chunks[i].Text,
				Vector:   vectors[i],
				Metadata: meta,
			})
		}

		// Replace the file's previous chunks, then write the new set.
		if err := c.vectors.DeleteByFilter(ctx, r.collectionID, map[string]string{"file_key": full.Key()}); err != nil {
			lastErr = err
			continue
		}
		if err := c.vectors.Upsert(ctx, r.collectionID, records); err != nil {
			lastErr = err
			continue
		}
		return len(records), nil
	}
	return 0, lastErr
}

func (r *syncRun) persist(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinator.store.PutSyncStatus(context.WithoutCancel(ctx), r.status)
}

// finish settles the terminal state and persists it.
func (r *syncRun) finish(ctx context.Context, runErr error) (*store.SyncStatus, error) {
	c := r.coordinator

	r.mu.Lock()
	switch {
	case runErr != nil && apperr.KindOf(runErr) == apperr.KindCancelled:
		r.status.State = store.SyncStateOutOfSync
		r.status.LastError = "sync cancelled"
	case runErr != nil:
		r.status.State = store.SyncStateError
		r.status.LastError = apperr.MessageOf(runErr)
	case len(r.status.FileErrors) > 0:
		r.status.State = store.SyncStateError
		r.status.LastError = "one or more files failed to sync"
	default:
		r.status.State = store.SyncStateInSync
		now := time.Now().UTC()
		r.status.LastSync = &now
	}
	r.mu.Unlock()

	if count, err := c.vectors.Count(context.WithoutCancel(ctx), r.collectionID); err == nil {
		r.mu.Lock()
		r.status.ChunkCount = count
		r.mu.Unlock()
	}

	if err := r.persist(ctx); err != nil {
		c.logger.Error(ctx, "persisting final sync status failed", zap.Error(err))
	}

	r.mu.Lock()
	final := *r.status
	r.mu.Unlock()
	return &final, runErr
}
