// Package vectorstore stores and queries embedding records keyed by
// chunk id, with interchangeable embedded (chromem) and remote (qdrant)
// backends.
package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

// Record is one embedding bound to a chunk.
type Record struct {
	// ChunkID is the stable chunk id; it keys the record.
	ChunkID string

	// Text is the chunk text, stored alongside the vector.
	Text string

	// Vector is the precomputed embedding.
	Vector []float32

	// Metadata is the normalized, primitive-only metadata mirror of the
	// chunk. Produced by NormalizeChunk.
	Metadata map[string]any
}

// QueryResult is one ranked match.
type QueryResult struct {
	ChunkID  string
	Text     string
	Score    float32
	Metadata map[string]string

	// RelatedIDs are the match's declared related chunk ids (previous,
	// next, overlap partners, parent section).
	RelatedIDs []string
}

// Store is the pluggable vector index.
type Store interface {
	// Upsert writes records into the named collection, replacing records
	// with the same chunk id. Records carry their embedding fingerprint
	// in metadata; writing under a fingerprint that differs from the
	// collection's recorded one is refused, so a collection never mixes
	// embedding spaces.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Fingerprint returns the embedding model fingerprint recorded for
	// the collection, or "" when none is recorded.
	Fingerprint(ctx context.Context, collection string) (string, error)

	// SetFingerprint records the collection's embedding model
	// fingerprint. An empty value clears the record; DeleteCollection
	// clears it too.
	SetFingerprint(ctx context.Context, collection, fingerprint string) error

	// Query returns up to limit matches by cosine similarity, dropping
	// matches below threshold. Filter entries must match record metadata
	// exactly.
	Query(ctx context.Context, collection string, vector []float32, limit int, threshold float32, filter map[string]string) ([]QueryResult, error)

	// Get returns the records for the given chunk ids; missing ids are
	// skipped.
	Get(ctx context.Context, collection string, ids []string) ([]QueryResult, error)

	// DeleteByIDs removes records by chunk id.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes all records whose metadata matches the
	// filter exactly (e.g. every chunk of one file).
	DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error

	// DeleteCollection removes the whole collection. Missing collections
	// are not an error.
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

var (
	_ Store = (*ChromemStore)(nil)
	_ Store = (*QdrantStore)(nil)
)

// recordFingerprint returns the embedding fingerprint the records carry
// in their metadata, or "" when none do.
func recordFingerprint(records []Record) string {
	for i := range records {
		if fp, ok := records[i].Metadata["fingerprint"].(string); ok && fp != "" {
			return fp
		}
	}
	return ""
}

func fingerprintMismatch(collection, have, want string) error {
	return apperr.Errorf(apperr.KindConflict, "fingerprint_mismatch",
		"collection %q is indexed with embedding model %q, refusing records from %q",
		collection, have, want)
}
