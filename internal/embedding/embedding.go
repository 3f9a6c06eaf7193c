package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"company-rag/internal/config"
	"company-rag/internal/models"
)

const defaultBatchSize = 32

// Embedder turns text into vectors. Every vector it returns has the same dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the configured provider and wraps it so that every
// vector it returns has unit length.
func NewEmbedder(cfg *config.LLMConfig) (Embedder, error) {
	var (
		e   *embeddings.EmbedderImpl
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg)
	case config.ProviderOllama:
		e, err = NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Normalize(e), nil
}

// NewOpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating openai embedder")

	token := cfg.Key
	if token == "" {
		// self-hosted endpoints ignore the key but the client requires one
		token = "unused"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %v", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %v", err)
	}
	return embedder, nil
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %v", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %v", err)
	}
	return embedder, nil
}

func batchSize(cfg *config.LLMConfig) int {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return cfg.BatchSize
}

// GenerateEmbeddings embeds every chunk in order; vector i belongs to chunks[i]
func GenerateEmbeddings(ctx context.Context, embedder Embedder, chunks []models.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("embedder returned a vector of dimension %d at %d, expected %d", len(v), i, len(vectors[0]))
		}
	}

	log.Debug().Int("chunks", len(chunks)).Int("dimension", len(vectors[0])).Msg("Generated embeddings")
	return vectors, nil
}

// Normalized scales the output of an Embedder to unit length
type Normalized struct {
	Embedder
}

func Normalize(e Embedder) *Normalized {
	return &Normalized{Embedder: e}
}

func (n *Normalized) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := n.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = l2Normalize(v)
	}
	return out, nil
}

func (n *Normalized) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := n.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return l2Normalize(v), nil
}

// l2Normalize returns a unit-length copy of v. A zero vector is returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
