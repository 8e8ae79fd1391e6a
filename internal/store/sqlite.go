package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/sanitize"
)

const schemaVersion = 1

// SQLStore is the embedded relational backend. With contentInDB=false it
// acts as the sidecar metadata index for the filesystem backend.
type SQLStore struct {
	db          *sql.DB
	logger      *zap.Logger
	contentInDB bool
}

// OpenSQLStore opens (creating if needed) the embedded database backend.
func OpenSQLStore(path string, logger *zap.Logger) (*SQLStore, error) {
	return openSQLStore(path, logger, true)
}

// openMetaStore opens a sidecar metadata database that stores everything
// except file content.
func openMetaStore(path string, logger *zap.Logger) (*SQLStore, error) {
	return openSQLStore(path, logger, false)
}

func openSQLStore(path string, logger *zap.Logger, contentInDB bool) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "creating database directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "opening database", err)
	}
	// Pragmas apply per connection; a single connection keeps them in
	// effect and sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	// WAL must be set via PRAGMA for modernc.org/sqlite. Single writer,
	// concurrent readers.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "configuring database", err)
		}
	}

	s := &SQLStore{db: db, logger: logger, contentInDB: contentInDB}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("collection store opened",
		zap.String("path", path),
		zap.Bool("content_in_db", contentInDB),
	)
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT '{}',
		file_count  INTEGER NOT NULL DEFAULT 0,
		total_size  INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
		folder_path   TEXT NOT NULL DEFAULT '',
		name          TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		content_hash  TEXT NOT NULL,
		source_url    TEXT NOT NULL DEFAULT '',
		size          INTEGER NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		UNIQUE (collection_id, folder_path, name)
	);
	CREATE INDEX IF NOT EXISTS idx_files_collection ON files(collection_id);

	CREATE TABLE IF NOT EXISTS sync_status (
		collection_id TEXT PRIMARY KEY REFERENCES collections(id) ON DELETE CASCADE,
		payload       TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_vector_deletes (
		collection_id TEXT PRIMARY KEY,
		requested_at  TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "creating schema", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return apperr.Wrap(apperr.KindStorage, "storage_error", "recording schema version", err)
		}
	case err != nil:
		return apperr.Wrap(apperr.KindStorage, "storage_error", "reading schema version", err)
	case version > schemaVersion:
		return apperr.Errorf(apperr.KindStorage, "storage_error",
			"database schema version %d is newer than supported %d", version, schemaVersion)
	}
	return nil
}

// CreateCollection creates a collection; the sanitized name is the id.
func (s *SQLStore) CreateCollection(ctx context.Context, name, description string, metadata map[string]any) (*Collection, error) {
	id, err := sanitize.ValidateCollectionName(name)
	if err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(orEmptyMetadata(metadata))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid_metadata", "metadata is not JSON-encodable", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, description, string(metaJSON), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Errorf(apperr.KindConflict, "collection_exists",
				"collection %q already exists", name)
		}
		return nil, storageErr("creating collection", err)
	}

	return &Collection{
		ID:          id,
		Name:        name,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ListCollections returns all collections ordered by name.
func (s *SQLStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, metadata, file_count, total_size, created_at, updated_at
		FROM collections ORDER BY name`)
	if err != nil {
		return nil, storageErr("listing collections", err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing collections", err)
	}
	return collections, nil
}

// GetCollection returns one collection by id.
func (s *SQLStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, metadata, file_count, total_size, created_at, updated_at
		FROM collections WHERE id = ?`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collectionNotFound(id)
	}
	return c, err
}

// DeleteCollection removes the collection and cascades to its files and
// sync status in one transaction.
func (s *SQLStore) DeleteCollection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return storageErr("deleting collection", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("deleting collection", err)
	}
	if affected == 0 {
		return collectionNotFound(id)
	}
	return nil
}

// SaveFile upserts a file and adjusts collection counters in one tx.
func (s *SQLStore) SaveFile(ctx context.Context, collectionID, folder, name, content, sourceURL string) (*File, error) {
	if err := validateFileInput(folder, name, content); err != nil {
		return nil, err
	}
	return s.saveFileRow(ctx, collectionID, folder, name, content, sourceURL,
		HashContent(content), int64(len(content)), false)
}

// UpdateFile is SaveFile restricted to existing files.
func (s *SQLStore) UpdateFile(ctx context.Context, collectionID, folder, name, content string) (*File, error) {
	if err := validateFileInput(folder, name, content); err != nil {
		return nil, err
	}
	return s.saveFileRow(ctx, collectionID, folder, name, content, "",
		HashContent(content), int64(len(content)), true)
}

// saveFileRow is the shared upsert used by both backends. In sidecar mode
// content is not persisted; hash and size describe the on-disk file.
func (s *SQLStore) saveFileRow(ctx context.Context, collectionID, folder, name, content, sourceURL, hash string, size int64, mustExist bool) (*File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM collections WHERE id = ?", collectionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, collectionNotFound(collectionID)
		}
		return nil, storageErr("checking collection", err)
	}

	now := time.Now().UTC()
	storedContent := content
	if !s.contentInDB {
		storedContent = ""
	}

	var (
		fileID    string
		oldSize   int64
		createdAt string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, size, created_at FROM files
		WHERE collection_id = ? AND folder_path = ? AND name = ?`,
		collectionID, folder, name).Scan(&fileID, &oldSize, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if mustExist {
			return nil, fileNotFound(collectionID, folder, name)
		}
		fileID = uuid.NewString()
		createdAt = formatTime(now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO files (id, collection_id, folder_path, name, content, content_hash, source_url, size, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, collectionID, folder, name, storedContent, hash, sourceURL, size, createdAt, formatTime(now)); err != nil {
			return nil, storageErr("inserting file", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET file_count = file_count + 1, total_size = total_size + ?, updated_at = ?
			WHERE id = ?`, size, formatTime(now), collectionID); err != nil {
			return nil, storageErr("updating collection counters", err)
		}

	case err != nil:
		return nil, storageErr("looking up file", err)

	default:
		query := `UPDATE files SET content = ?, content_hash = ?, size = ?, updated_at = ?`
		args := []any{storedContent, hash, size, formatTime(now)}
		if sourceURL != "" {
			query += ", source_url = ?"
			args = append(args, sourceURL)
		}
		query += " WHERE id = ?"
		args = append(args, fileID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, storageErr("updating file", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET total_size = total_size + ?, updated_at = ?
			WHERE id = ?`, size-oldSize, formatTime(now), collectionID); err != nil {
			return nil, storageErr("updating collection counters", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing file save", err)
	}

	created, _ := parseTime(createdAt)
	return &File{
		ID:           fileID,
		CollectionID: collectionID,
		Name:         name,
		FolderPath:   folder,
		Content:      content,
		ContentHash:  hash,
		SourceURL:    sourceURL,
		CreatedAt:    created,
		UpdatedAt:    now,
		Size:         size,
	}, nil
}

// ReadFile returns the file including content (embedded mode).
func (s *SQLStore) ReadFile(ctx context.Context, collectionID, folder, name string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection_id, folder_path, name, content, content_hash, source_url, size, created_at, updated_at
		FROM files WHERE collection_id = ? AND folder_path = ? AND name = ?`,
		collectionID, folder, name)

	f, err := scanFile(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		if _, cerr := s.GetCollection(ctx, collectionID); cerr != nil {
			return nil, cerr
		}
		return nil, fileNotFound(collectionID, folder, name)
	}
	return f, err
}

// DeleteFile removes the file and adjusts counters in one tx.
func (s *SQLStore) DeleteFile(ctx context.Context, collectionID, folder, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		fileID string
		size   int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, size FROM files WHERE collection_id = ? AND folder_path = ? AND name = ?`,
		collectionID, folder, name).Scan(&fileID, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return fileNotFound(collectionID, folder, name)
	}
	if err != nil {
		return storageErr("looking up file", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID); err != nil {
		return storageErr("deleting file", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE collections SET file_count = file_count - 1, total_size = total_size - ?, updated_at = ?
		WHERE id = ?`, size, formatTime(time.Now().UTC()), collectionID); err != nil {
		return storageErr("updating collection counters", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing file delete", err)
	}
	return nil
}

// ListFiles returns file metadata (no content) ordered by path.
func (s *SQLStore) ListFiles(ctx context.Context, collectionID string) ([]File, error) {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, folder_path, name, '', content_hash, source_url, size, created_at, updated_at
		FROM files WHERE collection_id = ? ORDER BY folder_path, name`, collectionID)
	if err != nil {
		return nil, storageErr("listing files", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows, false)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing files", err)
	}
	return files, nil
}

// GetSyncStatus returns the stored status or a never_synced default.
func (s *SQLStore) GetSyncStatus(ctx context.Context, collectionID string) (*SyncStatus, error) {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM sync_status WHERE collection_id = ?", collectionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &SyncStatus{
			CollectionID: collectionID,
			State:        SyncStateNeverSynced,
			UpdatedAt:    time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, storageErr("reading sync status", err)
	}

	var status SyncStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return nil, storageErr("decoding sync status", err)
	}
	return &status, nil
}

// PutSyncStatus atomically replaces the per-collection status row.
func (s *SQLStore) PutSyncStatus(ctx context.Context, status *SyncStatus) error {
	status.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(status)
	if err != nil {
		return storageErr("encoding sync status", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_status (collection_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		status.CollectionID, string(payload), formatTime(status.UpdatedAt))
	if err != nil {
		return storageErr("writing sync status", err)
	}
	return nil
}

// ListSyncStatuses returns all stored statuses.
func (s *SQLStore) ListSyncStatuses(ctx context.Context) ([]SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM sync_status ORDER BY collection_id")
	if err != nil {
		return nil, storageErr("listing sync statuses", err)
	}
	defer rows.Close()

	var statuses []SyncStatus
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storageErr("scanning sync status", err)
		}
		var status SyncStatus
		if err := json.Unmarshal([]byte(payload), &status); err != nil {
			return nil, storageErr("decoding sync status", err)
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("listing sync statuses", err)
	}
	return statuses, nil
}

// AddPendingVectorDelete records a deferred vector cleanup.
func (s *SQLStore) AddPendingVectorDelete(ctx context.Context, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_vector_deletes (collection_id, requested_at)
		VALUES (?, ?) ON CONFLICT(collection_id) DO NOTHING`,
		collectionID, formatTime(time.Now().UTC()))
	if err != nil {
		return storageErr("recording pending vector delete", err)
	}
	return nil
}

// TakePendingVectorDeletes returns and clears the deferred deletes.
func (s *SQLStore) TakePendingVectorDeletes(ctx context.Context) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT collection_id FROM pending_vector_deletes")
	if err != nil {
		return nil, storageErr("reading pending vector deletes", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr("scanning pending vector delete", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading pending vector deletes", err)
	}

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending_vector_deletes"); err != nil {
			return nil, storageErr("clearing pending vector deletes", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing pending vector deletes", err)
	}
	return ids, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*Collection, error) {
	var (
		c          Collection
		metaJSON   string
		createdStr string
		updatedStr string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &metaJSON, &c.FileCount, &c.TotalSize, &createdStr, &updatedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storageErr("scanning collection", err)
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, storageErr("decoding collection metadata", err)
		}
	}
	c.CreatedAt, _ = parseTime(createdStr)
	c.UpdatedAt, _ = parseTime(updatedStr)
	return &c, nil
}

func scanFile(row rowScanner, withContent bool) (*File, error) {
	var (
		f          File
		createdStr string
		updatedStr string
	)
	err := row.Scan(&f.ID, &f.CollectionID, &f.FolderPath, &f.Name, &f.Content,
		&f.ContentHash, &f.SourceURL, &f.Size, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storageErr("scanning file", err)
	}
	if !withContent {
		f.Content = ""
	}
	f.CreatedAt, _ = parseTime(createdStr)
	f.UpdatedAt, _ = parseTime(updatedStr)
	return &f, nil
}

func validateFileInput(folder, name, content string) error {
	if err := sanitize.ValidateFolderPath(folder); err != nil {
		return err
	}
	if err := sanitize.ValidateFilename(name); err != nil {
		return err
	}
	return sanitize.ValidateContent(content)
}

func orEmptyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}

func collectionNotFound(id string) error {
	return apperr.Errorf(apperr.KindNotFound, "collection_not_found", "collection %q not found", id)
}

func fileNotFound(collectionID, folder, name string) error {
	key := name
	if folder != "" {
		key = folder + "/" + name
	}
	return apperr.Errorf(apperr.KindNotFound, "file_not_found",
		"file %q not found in collection %q", key, collectionID)
}

func storageErr(op string, err error) error {
	return apperr.Wrap(apperr.KindStorage, "storage_error", op+" failed", err)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the message; the
	// driver does not export typed errors for them.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
