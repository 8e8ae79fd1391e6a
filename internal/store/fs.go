package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/sanitize"
)

// metaDBName is the sidecar database filename inside the storage root. The
// leading dot keeps it out of reconciliation scans.
const metaDBName = ".shelfd.db"

// FSStore stores file content as plain files under a root directory, one
// subdirectory per collection, with a sidecar database for metadata and
// sync state. Disk is the source of truth; the sidecar is an index that
// the reconciler repairs after external edits.
type FSStore struct {
	root   string
	meta   *SQLStore
	logger *zap.Logger
}

var (
	_ CollectionStore = (*FSStore)(nil)
	_ Reconciler      = (*FSStore)(nil)
)

// OpenFSStore opens (creating if needed) a filesystem backend rooted at dir.
func OpenFSStore(root string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "resolving storage root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "creating storage root", err)
	}

	meta, err := openMetaStore(filepath.Join(abs, metaDBName), logger)
	if err != nil {
		return nil, err
	}

	s := &FSStore{root: abs, meta: meta, logger: logger}
	if err := s.ReconcileAll(context.Background()); err != nil {
		logger.Warn("initial reconciliation failed", zap.Error(err))
	}
	return s, nil
}

// Root returns the absolute storage root directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) collectionDir(collectionID string) string {
	return filepath.Join(s.root, collectionID)
}

func (s *FSStore) filePath(collectionID, folder, name string) string {
	return filepath.Join(s.collectionDir(collectionID), filepath.FromSlash(folder), name)
}

func (s *FSStore) CreateCollection(ctx context.Context, name, description string, metadata map[string]any) (*Collection, error) {
	c, err := s.meta.CreateCollection(ctx, name, description, metadata)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.collectionDir(c.ID), 0o755); err != nil {
		_ = s.meta.DeleteCollection(ctx, c.ID)
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "creating collection directory", err)
	}
	return c, nil
}

func (s *FSStore) ListCollections(ctx context.Context) ([]Collection, error) {
	return s.meta.ListCollections(ctx)
}

func (s *FSStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	return s.meta.GetCollection(ctx, id)
}

func (s *FSStore) DeleteCollection(ctx context.Context, id string) error {
	if err := s.meta.DeleteCollection(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.collectionDir(id)); err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "removing collection directory", err)
	}
	return nil
}

func (s *FSStore) SaveFile(ctx context.Context, collectionID, folder, name, content, sourceURL string) (*File, error) {
	if err := validateFileInput(folder, name, content); err != nil {
		return nil, err
	}
	if _, err := s.meta.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	if err := s.writeContent(collectionID, folder, name, content); err != nil {
		return nil, err
	}

	f, err := s.meta.saveFileRow(ctx, collectionID, folder, name, content, sourceURL,
		HashContent(content), int64(len(content)), false)
	if err != nil {
		return nil, err
	}
	f.Content = content
	return f, nil
}

func (s *FSStore) UpdateFile(ctx context.Context, collectionID, folder, name, content string) (*File, error) {
	if err := validateFileInput(folder, name, content); err != nil {
		return nil, err
	}
	if _, err := s.meta.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	if !s.existsOnDisk(collectionID, folder, name) {
		return nil, fileNotFound(collectionID, folder, name)
	}
	if err := s.writeContent(collectionID, folder, name, content); err != nil {
		return nil, err
	}

	f, err := s.meta.saveFileRow(ctx, collectionID, folder, name, content, "",
		HashContent(content), int64(len(content)), false)
	if err != nil {
		return nil, err
	}
	f.Content = content
	return f, nil
}

func (s *FSStore) ReadFile(ctx context.Context, collectionID, folder, name string) (*File, error) {
	if err := sanitize.ValidateFolderPath(folder); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateFilename(name); err != nil {
		return nil, err
	}
	if _, err := s.meta.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filePath(collectionID, folder, name))
	if errors.Is(err, fs.ErrNotExist) {
		// A stale index row means the file was removed externally.
		_ = s.meta.DeleteFile(ctx, collectionID, folder, name)
		return nil, fileNotFound(collectionID, folder, name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "reading file", err)
	}
	content := string(data)

	f, err := s.meta.ReadFile(ctx, collectionID, folder, name)
	if err != nil || f.ContentHash != HashContent(content) {
		// Index missing or stale after an external edit; repair it.
		f, err = s.meta.saveFileRow(ctx, collectionID, folder, name, content, "",
			HashContent(content), int64(len(content)), false)
		if err != nil {
			return nil, err
		}
	}
	f.Content = content
	return f, nil
}

func (s *FSStore) DeleteFile(ctx context.Context, collectionID, folder, name string) error {
	if err := sanitize.ValidateFolderPath(folder); err != nil {
		return err
	}
	if err := sanitize.ValidateFilename(name); err != nil {
		return err
	}
	if _, err := s.meta.GetCollection(ctx, collectionID); err != nil {
		return err
	}

	onDisk := s.existsOnDisk(collectionID, folder, name)
	metaErr := s.meta.DeleteFile(ctx, collectionID, folder, name)
	if !onDisk && metaErr != nil {
		return metaErr
	}
	if onDisk {
		if err := os.Remove(s.filePath(collectionID, folder, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.Wrap(apperr.KindStorage, "storage_error", "removing file", err)
		}
	}
	return nil
}

func (s *FSStore) ListFiles(ctx context.Context, collectionID string) ([]File, error) {
	return s.meta.ListFiles(ctx, collectionID)
}

func (s *FSStore) GetSyncStatus(ctx context.Context, collectionID string) (*SyncStatus, error) {
	return s.meta.GetSyncStatus(ctx, collectionID)
}

func (s *FSStore) PutSyncStatus(ctx context.Context, status *SyncStatus) error {
	return s.meta.PutSyncStatus(ctx, status)
}

func (s *FSStore) ListSyncStatuses(ctx context.Context) ([]SyncStatus, error) {
	return s.meta.ListSyncStatuses(ctx)
}

func (s *FSStore) AddPendingVectorDelete(ctx context.Context, collectionID string) error {
	return s.meta.AddPendingVectorDelete(ctx, collectionID)
}

func (s *FSStore) TakePendingVectorDeletes(ctx context.Context) ([]string, error) {
	return s.meta.TakePendingVectorDeletes(ctx)
}

func (s *FSStore) Close() error {
	return s.meta.Close()
}

// ReconcileCollection scans the collection directory, brings the sidecar
// index into agreement with disk, and flags files that diverged from the
// last sync so the collection reads out_of_sync until the next sync.
// Content files are never written.
func (s *FSStore) ReconcileCollection(ctx context.Context, collectionID string) error {
	if _, err := s.meta.GetCollection(ctx, collectionID); err != nil {
		return err
	}

	onDisk, err := s.scanCollectionDir(collectionID)
	if err != nil {
		return err
	}

	indexed, err := s.meta.ListFiles(ctx, collectionID)
	if err != nil {
		return err
	}

	indexedByKey := make(map[string]File, len(indexed))
	for _, f := range indexed {
		indexedByKey[f.Key()] = f
	}

	for key, disk := range onDisk {
		if ctx.Err() != nil {
			return apperr.FromContext(ctx.Err())
		}
		existing, ok := indexedByKey[key]
		if ok && existing.ContentHash == disk.hash {
			continue
		}
		if _, err := s.meta.saveFileRow(ctx, collectionID, disk.folder, disk.name, "", "",
			disk.hash, disk.size, false); err != nil {
			return err
		}
	}

	for key, f := range indexedByKey {
		if _, ok := onDisk[key]; ok {
			continue
		}
		if err := s.meta.DeleteFile(ctx, collectionID, f.FolderPath, f.Name); err != nil &&
			apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}
	}

	return s.refreshSyncState(ctx, collectionID, onDisk)
}

// refreshSyncState flags files whose disk content diverged from the last
// sync snapshots and moves the collection between in_sync and
// out_of_sync accordingly. Unsettled states (never_synced, syncing,
// error) belong to the sync coordinator and stay untouched.
func (s *FSStore) refreshSyncState(ctx context.Context, collectionID string, onDisk map[string]diskFile) error {
	status, err := s.meta.GetSyncStatus(ctx, collectionID)
	if err != nil {
		return err
	}
	if status.State != SyncStateInSync && status.State != SyncStateOutOfSync {
		return nil
	}

	var changed []string
	for key, disk := range onDisk {
		if status.Snapshots[key] != disk.hash {
			changed = append(changed, key)
		}
	}
	for key := range status.Snapshots {
		if _, ok := onDisk[key]; !ok {
			changed = append(changed, key)
		}
	}
	slices.Sort(changed)

	next := SyncStateInSync
	if len(changed) > 0 {
		next = SyncStateOutOfSync
	}
	if next == status.State && slices.Equal(changed, status.ChangedKeys) {
		return nil
	}

	status.State = next
	status.ChangedFiles = len(changed)
	status.ChangedKeys = changed
	return s.meta.PutSyncStatus(ctx, status)
}

// ReconcileAll reconciles every collection directory, adopting directories
// created externally under the root as new collections.
func (s *FSStore) ReconcileAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "reading storage root", err)
	}

	known := map[string]bool{}
	collections, err := s.meta.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range collections {
		known[c.ID] = true
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		id := entry.Name()
		if sanitize.Identifier(id) != id {
			s.logger.Warn("skipping directory with unusable name", zap.String("dir", id))
			continue
		}
		if !known[id] {
			if _, err := s.meta.CreateCollection(ctx, id, "", nil); err != nil &&
				apperr.KindOf(err) != apperr.KindConflict {
				return err
			}
			s.logger.Info("adopted external collection directory", zap.String("collection", id))
		}
		if err := s.ReconcileCollection(ctx, id); err != nil {
			return err
		}
	}

	// Collections whose directory disappeared keep their metadata but show
	// zero files after reconciliation of an empty scan.
	for _, c := range collections {
		if _, err := os.Stat(s.collectionDir(c.ID)); errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(s.collectionDir(c.ID), 0o755); err != nil {
				return apperr.Wrap(apperr.KindStorage, "storage_error", "restoring collection directory", err)
			}
			if err := s.ReconcileCollection(ctx, c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

type diskFile struct {
	folder string
	name   string
	hash   string
	size   int64
}

// scanCollectionDir walks the collection directory and returns eligible
// files keyed by folder/name. Dotfiles and disallowed extensions are
// ignored rather than rejected.
func (s *FSStore) scanCollectionDir(collectionID string) (map[string]diskFile, error) {
	dir := s.collectionDir(collectionID)
	found := map[string]diskFile{}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != dir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !AllowedExtension(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		folder := path.Dir(rel)
		if folder == "." {
			folder = ""
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		df := diskFile{
			folder: folder,
			name:   d.Name(),
			hash:   HashContent(string(data)),
			size:   int64(len(data)),
		}
		key := df.name
		if df.folder != "" {
			key = df.folder + "/" + df.name
		}
		found[key] = df
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "scanning collection directory", err)
	}
	return found, nil
}

func (s *FSStore) existsOnDisk(collectionID, folder, name string) bool {
	info, err := os.Stat(s.filePath(collectionID, folder, name))
	return err == nil && info.Mode().IsRegular()
}

// writeContent writes atomically via temp file and rename.
func (s *FSStore) writeContent(collectionID, folder, name, content string) error {
	target := s.filePath(collectionID, folder, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "creating folder", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+name+".tmp*")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "creating temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "storage_error", "writing file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "storage_error", "closing temp file", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap(apperr.KindStorage, "storage_error", "replacing file", err)
	}
	return nil
}

// AllowedExtension reports whether the filename carries an indexable
// extension.
func AllowedExtension(name string) bool {
	return sanitize.AllowedExtensions[strings.ToLower(path.Ext(name))]
}
