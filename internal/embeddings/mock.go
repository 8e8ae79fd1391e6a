package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic, offline provider for tests and local
// development. Identical text always yields the identical unit vector.
type Mock struct {
	dim int
}

// NewMock creates a mock provider of the given dimensionality.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 768
	}
	return &Mock{dim: dim}
}

func (m *Mock) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.embed(text)
	}
	return vectors, nil
}

func (m *Mock) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.embed(text), nil
}

func (m *Mock) embed(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, m.dim)
	for i := range vector {
		vector[i] = float32(math.Sin(float64(seed) * float64(i+1) * 0.1))
	}

	var sum float32
	for _, v := range vector {
		sum += v * v
	}
	if norm := float32(math.Sqrt(float64(sum))); norm > 0 {
		for i := range vector {
			vector[i] /= norm
		}
	}
	return vector
}

func (m *Mock) Dimension() int { return m.dim }

func (m *Mock) Fingerprint() string { return Fingerprint("mock", m.dim) }

func (m *Mock) Close() error { return nil }
