package vectorstore

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// NoResult is the id used to pad a search when fewer vectors than requested exist.
const NoResult = -1

// Hit is a single nearest-neighbour match. ID is the vector's insertion position.
type Hit struct {
	ID    int
	Score float32
}

// Searcher is the read side of a vector index.
// Implementations must be safe for concurrent use once built.
type Searcher interface {
	Dimension() int
	Len() int
	// Search returns exactly k hits ordered by descending inner product,
	// padded with NoResult when the index holds fewer than k vectors.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Reconstruct(ctx context.Context, id int) ([]float32, error)
}

// FlatIndex is an exhaustive inner-product index. It is immutable after Build.
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// Build creates a flat index over vectors; vector i gets id i.
func Build(vectors [][]float32) (*FlatIndex, error) {
	idx := &FlatIndex{vectors: make([][]float32, len(vectors))}
	for i, v := range vectors {
		if i == 0 {
			idx.dim = len(v)
		} else if len(v) != idx.dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), idx.dim)
		}
		idx.vectors[i] = slices.Clone(v)
	}
	return idx, nil
}

func (f *FlatIndex) Dimension() int { return f.dim }

func (f *FlatIndex) Len() int { return len(f.vectors) }

func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if len(f.vectors) > 0 && len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	hits := make([]Hit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = Hit{ID: i, Score: Dot(query, v)}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(hits) > k {
		return hits[:k], nil
	}
	for len(hits) < k {
		hits = append(hits, Hit{ID: NoResult, Score: float32(math.Inf(-1))})
	}
	return hits, nil
}

func (f *FlatIndex) Reconstruct(ctx context.Context, id int) ([]float32, error) {
	if id < 0 || id >= len(f.vectors) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return slices.Clone(f.vectors[id]), nil
}

// Dot is the inner product of a and b, which equals cosine similarity for unit vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
