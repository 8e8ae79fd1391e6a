package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

// fingerprintFile records per-collection embedding fingerprints next to
// the chromem data; chromem itself has no collection metadata readback.
const fingerprintFile = "fingerprints.json"

// ChromemStore is the embedded backend. chromem-go is pure Go with gob
// persistence, so no external service is needed.
type ChromemStore struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu           sync.Mutex
	fingerprints map[string]string
}

// NewChromemStore opens (creating if needed) a persistent store at path.
func NewChromemStore(path string, compress bool, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "creating vector store directory", err)
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"opening chromem database", err)
	}

	fingerprints, err := loadFingerprints(filepath.Join(path, fingerprintFile))
	if err != nil {
		return nil, err
	}

	logger.Info("vector store opened",
		zap.String("backend", "chromem"),
		zap.String("path", path),
	)
	return &ChromemStore{db: db, path: path, logger: logger, fingerprints: fingerprints}, nil
}

func loadFingerprints(path string) (map[string]string, error) {
	fingerprints := map[string]string{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fingerprints, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "reading fingerprints", err)
	}
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "storage_error", "decoding fingerprints", err)
	}
	return fingerprints, nil
}

// noEmbedFunc guards against accidental text-embedding calls; every
// vector reaching this store is precomputed.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

func (s *ChromemStore) collection(name string, create bool) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if create {
		c, err := s.db.GetOrCreateCollection(name, nil, noEmbedFunc)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
				"creating collection", err)
		}
		return c, nil
	}
	return s.db.GetCollection(name, noEmbedFunc), nil
}

// Fingerprint returns the recorded embedding fingerprint for the
// collection, or "".
func (s *ChromemStore) Fingerprint(ctx context.Context, collection string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprints[collection], nil
}

// SetFingerprint records the collection's embedding fingerprint; an
// empty value clears it.
func (s *ChromemStore) SetFingerprint(ctx context.Context, collection, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFingerprintLocked(collection, fingerprint)
}

func (s *ChromemStore) setFingerprintLocked(collection, fingerprint string) error {
	if fingerprint == "" {
		delete(s.fingerprints, collection)
	} else {
		s.fingerprints[collection] = fingerprint
	}
	data, err := json.Marshal(s.fingerprints)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "encoding fingerprints", err)
	}
	if err := os.WriteFile(filepath.Join(s.path, fingerprintFile), data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindStorage, "storage_error", "writing fingerprints", err)
	}
	return nil
}

// guardFingerprint refuses writes from a different embedding space and
// records the fingerprint on a collection's first write.
func (s *ChromemStore) guardFingerprint(collection, incoming string) error {
	if incoming == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.fingerprints[collection]
	if current == "" {
		return s.setFingerprintLocked(collection, incoming)
	}
	if current != incoming {
		return fingerprintMismatch(collection, current, incoming)
	}
	return nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.guardFingerprint(collection, recordFingerprint(records)); err != nil {
		return err
	}
	c, err := s.collection(collection, true)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ChunkID,
			Content:   r.Text,
			Metadata:  StringifyMeta(r.Metadata),
			Embedding: r.Vector,
		}
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"upserting records", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, limit int, threshold float32, filter map[string]string) ([]QueryResult, error) {
	c, err := s.collection(collection, false)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Count() == 0 {
		return nil, nil
	}

	// chromem rejects nResults beyond the collection size.
	n := limit
	if count := c.Count(); n > count {
		n = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
		// Filtering shrinks the candidate set; chromem requires
		// nResults to fit the filtered count, so keep n conservative and
		// let the error path below degrade gracefully.
	}

	results, err := c.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		if where != nil && strings.Contains(err.Error(), "nResults") {
			return s.queryShrinking(ctx, c, vector, n, where)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"querying collection", err)
	}
	return convertResults(results, threshold), nil
}

// queryShrinking retries with smaller nResults until the filtered
// candidate set fits.
func (s *ChromemStore) queryShrinking(ctx context.Context, c *chromem.Collection, vector []float32, n int, where map[string]string) ([]QueryResult, error) {
	for n > 1 {
		n /= 2
		results, err := c.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil {
			return convertResults(results, 0), nil
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
				"querying collection", err)
		}
	}
	return nil, nil
}

func convertResults(results []chromem.Result, threshold float32) []QueryResult {
	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		out = append(out, QueryResult{
			ChunkID:    r.ID,
			Text:       r.Content,
			Score:      r.Similarity,
			Metadata:   r.Metadata,
			RelatedIDs: RelatedFromMeta(r.Metadata),
		})
	}
	return out
}

func (s *ChromemStore) Get(ctx context.Context, collection string, ids []string) ([]QueryResult, error) {
	c, err := s.collection(collection, false)
	if err != nil || c == nil {
		return nil, err
	}

	out := make([]QueryResult, 0, len(ids))
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, QueryResult{
			ChunkID:    doc.ID,
			Text:       doc.Content,
			Score:      1,
			Metadata:   doc.Metadata,
			RelatedIDs: RelatedFromMeta(doc.Metadata),
		})
	}
	return out, nil
}

func (s *ChromemStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c, err := s.collection(collection, false)
	if err != nil || c == nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting records", err)
	}
	return nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return nil
	}
	c, err := s.collection(collection, false)
	if err != nil || c == nil {
		return err
	}
	if err := c.Delete(ctx, filter, nil); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting records by filter", err)
	}
	return nil
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collection); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "vector_store_unavailable",
			"deleting collection", err)
	}
	return s.setFingerprintLocked(collection, "")
}

func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.collection(collection, false)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}
	return c.Count(), nil
}

func (s *ChromemStore) Close() error { return nil }
