package retriever

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"company-rag/internal/models"
	"company-rag/internal/vectorstore"
)

const (
	DefaultTopK       = 8
	DefaultLambda     = 0.6
	DefaultOversample = 4
)

type options struct {
	oversample int
}

// Option tunes a Retrieve call
type Option func(*options)

// WithOversample sets how many neighbours per requested result are fetched
// before diversification. Values below 1 are ignored.
func WithOversample(factor int) Option {
	return func(o *options) {
		if factor >= 1 {
			o.oversample = factor
		}
	}
}

// Retrieve returns up to topK chunks relevant to query, diversified with MMR
// and ordered by their similarity to the query, highest first. Scores are the
// raw similarities from the index search. An index with no usable candidates
// yields an empty result and no error.
func Retrieve(ctx context.Context, query []float32, idx vectorstore.Searcher, chunks []models.Chunk, topK int, lambda float64, opts ...Option) ([]models.ScoredChunk, error) {
	o := options{oversample: DefaultOversample}
	for _, opt := range opts {
		opt(&o)
	}
	if topK <= 0 {
		return []models.ScoredChunk{}, nil
	}

	hits, err := idx.Search(ctx, query, topK*o.oversample)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	var (
		candidates []vectorstore.Hit
		simToQuery []float32
		vectors    [][]float32
	)
	for _, h := range hits {
		if h.ID == vectorstore.NoResult {
			continue
		}
		if h.ID < 0 || h.ID >= len(chunks) {
			log.Warn().Int("id", h.ID).Int("chunks", len(chunks)).Msg("Search returned an id with no chunk, skipping")
			continue
		}
		v, err := idx.Reconstruct(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct vector %d: %w", h.ID, err)
		}
		candidates = append(candidates, h)
		simToQuery = append(simToQuery, h.Score)
		vectors = append(vectors, v)
	}
	if len(candidates) == 0 {
		log.Debug().Int("top_k", topK).Msg("No candidates found")
		return []models.ScoredChunk{}, nil
	}

	picked := MMR(simToQuery, vectors, topK, lambda)

	results := make([]models.ScoredChunk, 0, len(picked))
	for _, p := range picked {
		h := candidates[p]
		results = append(results, models.ScoredChunk{Chunk: chunks[h.ID], Score: h.Score})
	}
	slices.SortStableFunc(results, func(a, b models.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	log.Debug().
		Int("top_k", topK).
		Int("candidates", len(candidates)).
		Int("selected", len(results)).
		Float64("lambda", lambda).
		Msg("Retrieved chunks")
	return results, nil
}
