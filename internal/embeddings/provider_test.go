package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/config"
)

func TestMockDeterministic(t *testing.T) {
	m := NewMock(64)
	ctx := context.Background()

	a1, err := m.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)
	a2, err := m.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := m.EmbedQuery(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)

	require.Len(t, a1, 64)

	// Unit norm.
	var sum float64
	for _, v := range a1 {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
}

func TestMockBatch(t *testing.T) {
	m := NewMock(16)
	vectors, err := m.EmbedDocuments(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, vectors[0], vectors[2])
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "nomic-embed-text:768", Fingerprint("nomic-embed-text", 768))
	assert.Equal(t, "mock:32", NewMock(32).Fingerprint())
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 768, dimensionForModel("nomic-embed-text"))
	assert.Equal(t, 1536, dimensionForModel("text-embedding-3-small"))
	assert.Equal(t, 1024, dimensionForModel("some-large-model"))
	assert.Equal(t, 384, dimensionForModel("tiny-mini-thing"))
	assert.Equal(t, 768, dimensionForModel("unknown"))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "carrier-pigeon", Model: "x"})
	require.Error(t, err)
}

func TestNewMockProvider(t *testing.T) {
	p, err := New(config.EmbeddingConfig{Provider: "mock", Model: "mock", Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, p.Dimension())
	require.NoError(t, p.Close())
}
