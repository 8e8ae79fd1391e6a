// Package store provides the collection storage layer.
//
// Two interchangeable backends implement CollectionStore: an embedded
// sqlite database (embedded_db) and a filesystem layout with a sidecar
// metadata database (filesystem). Both enforce the same validation and
// error semantics; callers never depend on which backend is active.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SyncState enumerates per-collection sync lifecycle states.
type SyncState string

const (
	SyncStateNeverSynced SyncState = "never_synced"
	SyncStateInSync      SyncState = "in_sync"
	SyncStateOutOfSync   SyncState = "out_of_sync"
	SyncStateSyncing     SyncState = "syncing"
	SyncStateError       SyncState = "error"
)

// Collection is a named container for files.
type Collection struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	FileCount   int            `json:"file_count"`
	TotalSize   int64          `json:"total_size"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// File is a UTF-8 document inside a collection, addressed by
// (collection, folder, filename).
type File struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name"`
	FolderPath   string    `json:"folder_path"`
	Content      string    `json:"content,omitempty"`
	ContentHash  string    `json:"content_hash"`
	SourceURL    string    `json:"source_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Size         int64     `json:"size"`
}

// Key returns the stable file key within its collection.
func (f *File) Key() string {
	if f.FolderPath == "" {
		return f.Name
	}
	return f.FolderPath + "/" + f.Name
}

// SyncStatus is the per-collection sync record, including the per-file
// hash snapshots used for incremental diff.
type SyncStatus struct {
	CollectionID    string            `json:"collection_id"`
	Enabled         bool              `json:"enabled"`
	State           SyncState         `json:"state"`
	FileCount       int               `json:"file_count"`
	ChangedFiles    int               `json:"changed_files"`
	ChunkCount      int               `json:"chunk_count"`
	LastSync        *time.Time        `json:"last_sync,omitempty"`
	FilesProcessed  int               `json:"files_processed"`
	FilesTotal      int               `json:"files_total"`
	ChunksProcessed int               `json:"chunks_processed"`
	LastError       string            `json:"last_error,omitempty"`
	FileErrors      map[string]string `json:"file_errors,omitempty"`

	// ChangedKeys lists file keys whose disk content diverged from
	// Snapshots, flagged by the reconciler between syncs.
	ChangedKeys []string `json:"changed_keys,omitempty"`

	// Snapshots maps file key to the content hash at last successful sync.
	Snapshots map[string]string `json:"snapshots,omitempty"`

	// Fingerprint is the embedding model fingerprint of the indexed records.
	Fingerprint string `json:"fingerprint,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CollectionStore is the pluggable storage backend for collections and files.
type CollectionStore interface {
	CreateCollection(ctx context.Context, name, description string, metadata map[string]any) (*Collection, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	GetCollection(ctx context.Context, id string) (*Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	// SaveFile upserts by (collection, folder, name).
	SaveFile(ctx context.Context, collectionID, folder, name, content, sourceURL string) (*File, error)
	ReadFile(ctx context.Context, collectionID, folder, name string) (*File, error)

	// UpdateFile requires the file to exist already.
	UpdateFile(ctx context.Context, collectionID, folder, name, content string) (*File, error)
	DeleteFile(ctx context.Context, collectionID, folder, name string) error

	// ListFiles returns file metadata without content.
	ListFiles(ctx context.Context, collectionID string) ([]File, error)

	GetSyncStatus(ctx context.Context, collectionID string) (*SyncStatus, error)
	PutSyncStatus(ctx context.Context, status *SyncStatus) error
	ListSyncStatuses(ctx context.Context) ([]SyncStatus, error)

	// AddPendingVectorDelete records a collection whose vector records
	// could not be removed while the vector store was unavailable.
	AddPendingVectorDelete(ctx context.Context, collectionID string) error

	// TakePendingVectorDeletes returns and clears the deferred deletes.
	TakePendingVectorDeletes(ctx context.Context) ([]string, error)

	Close() error
}

// Reconciler is implemented by backends whose content can change outside
// the API (filesystem mode).
type Reconciler interface {
	// ReconcileCollection brings metadata into agreement with disk for
	// one collection. Idempotent; never writes content files.
	ReconcileCollection(ctx context.Context, collectionID string) error

	// ReconcileAll reconciles every collection.
	ReconcileAll(ctx context.Context) error
}

// HashContent returns the hex sha256 digest used for change detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
