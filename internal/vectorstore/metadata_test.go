package vectorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
)

func sampleChunk() *chunking.Chunk {
	return &chunking.Chunk{
		ID:              "chunk-1",
		CollectionID:    "docs",
		FileID:          "file-1",
		FileKey:         "guides/intro.md",
		Position:        2,
		Text:            "```python\nprint(1)\n```",
		Length:          22,
		ContainsCode:    true,
		Language:        "python",
		Headers:         []string{"Guide", "Setup"},
		Type:            chunking.TypeCodeBlock,
		ContentHash:     "abc",
		PrevID:          "chunk-0",
		NextID:          "chunk-2",
		OverlapPartners: []string{"chunk-0"},
		ParentSectionID: "chunk-head",
	}
}

func TestNormalizeChunk(t *testing.T) {
	indexed := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	meta, err := NormalizeChunk(sampleChunk(), "mock:768", indexed)
	require.NoError(t, err)

	assert.Equal(t, "Guide > Setup", meta["header_hierarchy"],
		"hierarchy keeps order with the readable separator")
	assert.Equal(t, "chunk-0", meta["overlap_partners"])
	assert.Equal(t, "chunk-0,chunk-2,chunk-0,chunk-head", meta["related"])
	assert.Equal(t, "code_block", meta["chunk_type"])
	assert.Equal(t, true, meta["contains_code"])
	assert.Equal(t, "2026-08-24T10:00:00Z", meta["indexed_at"])
	assert.Equal(t, "mock:768", meta["fingerprint"])

	// Null fields are omitted, not serialized.
	c := sampleChunk()
	c.Language = ""
	c.Headers = nil
	meta, err = NormalizeChunk(c, "mock:768", indexed)
	require.NoError(t, err)
	_, hasLang := meta["programming_language"]
	assert.False(t, hasLang)
	_, hasHier := meta["header_hierarchy"]
	assert.False(t, hasHier)
}

func TestNormalizeMetaRejectsNonPrimitive(t *testing.T) {
	_, err := NormalizeMeta("c1", map[string]any{
		"bad": map[string]int{"x": 1},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindChunkMetadata, apperr.KindOf(err))
	assert.Equal(t, "chunk_metadata_error", apperr.CodeOf(err))
}

func TestNormalizeMetaDropsNulls(t *testing.T) {
	meta, err := NormalizeMeta("c1", map[string]any{
		"keep": "v",
		"null": nil,
		"time": (*time.Time)(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keep": "v"}, meta)
}

func TestStringifyMeta(t *testing.T) {
	out := StringifyMeta(map[string]any{
		"s": "x",
		"i": 7,
		"b": true,
		"f": 0.5,
	})
	assert.Equal(t, map[string]string{
		"s": "x",
		"i": "7",
		"b": "true",
		"f": "0.5",
	}, out)
}

func TestRelatedFromMeta(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, RelatedFromMeta(map[string]string{"related": "a,b"}))
	assert.Nil(t, RelatedFromMeta(map[string]string{}))
	assert.Nil(t, RelatedFromMeta(map[string]string{"related": ""}))
}
