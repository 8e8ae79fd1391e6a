package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
)

func newChromem(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRecords(t *testing.T, texts ...string) []Record {
	t.Helper()
	embedder := embeddings.NewMock(64)
	vectors, err := embedder.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)

	records := make([]Record, len(texts))
	for i, text := range texts {
		c := &chunking.Chunk{
			ID:           text + "-id",
			CollectionID: "docs",
			FileID:       "f1",
			FileKey:      "a.md",
			Position:     i,
			Text:         text,
			Length:       len(text),
			Type:         chunking.TypeParagraph,
			ContentHash:  text,
		}
		meta, err := NormalizeChunk(c, embedder.Fingerprint(), time.Now())
		require.NoError(t, err)
		records[i] = Record{ChunkID: c.ID, Text: text, Vector: vectors[i], Metadata: meta}
	}
	return records
}

func TestChromemUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)
	embedder := embeddings.NewMock(64)

	records := makeRecords(t, "alpha", "beta", "gamma")
	require.NoError(t, s.Upsert(ctx, "docs", records))

	count, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// The exact vector of "beta" must rank "beta" first.
	qv, err := embedder.EmbedQuery(ctx, "beta")
	require.NoError(t, err)
	results, err := s.Query(ctx, "docs", qv, 3, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "beta-id", results[0].ChunkID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-3)
	assert.Equal(t, "paragraph", results[0].Metadata["chunk_type"])

	// A threshold just under perfect similarity keeps only the match.
	results, err = s.Query(ctx, "docs", qv, 3, 0.999, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, s.DeleteByIDs(ctx, "docs", []string{"beta-id"}))
	count, err = s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChromemUpsertReplacesSameID(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	records := makeRecords(t, "alpha")
	require.NoError(t, s.Upsert(ctx, "docs", records))
	require.NoError(t, s.Upsert(ctx, "docs", records))

	count, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "same chunk id must not duplicate")
}

func TestChromemQueryMissingCollection(t *testing.T) {
	s := newChromem(t)
	results, err := s.Query(context.Background(), "nope", []float32{1, 0}, 5, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "missing collection queries return empty, not error")
}

func TestChromemGet(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	require.NoError(t, s.Upsert(ctx, "docs", makeRecords(t, "alpha", "beta")))

	got, err := s.Get(ctx, "docs", []string{"alpha-id", "missing", "beta-id"})
	require.NoError(t, err)
	require.Len(t, got, 2, "missing ids are skipped")
	assert.Equal(t, "alpha-id", got[0].ChunkID)
	assert.Equal(t, "alpha", got[0].Text)
}

func TestChromemDeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	require.NoError(t, s.Upsert(ctx, "docs", makeRecords(t, "alpha")))
	require.NoError(t, s.DeleteCollection(ctx, "docs"))

	count, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestChromemRefusesMixedFingerprints(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	// The first write pins the collection to its embedding space.
	require.NoError(t, s.Upsert(ctx, "docs", makeRecords(t, "alpha")))
	fp, err := s.Fingerprint(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "mock:64", fp)

	// Records embedded by a different model are refused.
	foreign := makeRecords(t, "beta")
	for i := range foreign {
		foreign[i].Metadata["fingerprint"] = "other:512"
	}
	err = s.Upsert(ctx, "docs", foreign)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "fingerprint_mismatch", apperr.CodeOf(err))

	count, err := s.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "refused records must not land")

	// Dropping the collection frees the space for a new model.
	require.NoError(t, s.DeleteCollection(ctx, "docs"))
	fp, err = s.Fingerprint(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, fp)
	require.NoError(t, s.Upsert(ctx, "docs", foreign))
}

func TestChromemFingerprintSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(dir, false, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.SetFingerprint(ctx, "docs", "mock:64"))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(dir, false, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	fp, err := reopened.Fingerprint(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "mock:64", fp)

	// Clearing removes the record.
	require.NoError(t, reopened.SetFingerprint(ctx, "docs", ""))
	fp, err = reopened.Fingerprint(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, fp)
}
