package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"company-rag/internal/config"
	"company-rag/internal/embedding"
	"company-rag/internal/llmservice"
	"company-rag/internal/models"
	"company-rag/internal/retriever"
	"company-rag/internal/vectorstore"
)

var ErrEmptyQuestion = errors.New("question is empty")

// Store is a read-only index and its index-aligned chunks
type Store struct {
	Index  vectorstore.Searcher
	Chunks []models.Chunk
}

// Loader opens a company's store. It is called at most once per successful load.
type Loader func(ctx context.Context) (*Store, error)

// FileLoader loads the flat store persisted at h
func FileLoader(h vectorstore.StoreHandle) Loader {
	return func(ctx context.Context) (*Store, error) {
		s, err := vectorstore.Load(h)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("dir", h.Dir).
			Str("store_id", s.Manifest.ID).
			Int("chunks", len(s.Chunks)).
			Msg("Loaded vector store")
		return &Store{Index: s.Index, Chunks: s.Chunks}, nil
	}
}

// Answer is the outcome of a question
type Answer struct {
	Text     string
	Sources  []models.ScoredChunk
	Rejected bool
}

// Service answers questions against one company's store.
// The store is loaded on first use and shared by every later call.
type Service struct {
	cfg       config.RAGConfig
	load      Loader
	embedder  embedding.Embedder
	generator llmservice.Generator

	mu    sync.Mutex
	store *Store
}

func New(cfg config.RAGConfig, load Loader, embedder embedding.Embedder, generator llmservice.Generator) *Service {
	return &Service{
		cfg:       cfg,
		load:      load,
		embedder:  embedder,
		generator: generator,
	}
}

// Store returns the memoized store, loading it if needed. A failed load is retried on the next call.
func (s *Service) Store(ctx context.Context) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	st, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.store = st
	return st, nil
}

// Retrieve embeds the question and returns the diversified top-k chunks
func (s *Service) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return retriever.Retrieve(ctx, q, st.Index, st.Chunks, s.cfg.TopK, s.cfg.MMRLambda,
		retriever.WithOversample(s.cfg.Oversample))
}

// Answer retrieves evidence, gates it and asks the generator. Rejected answers carry
// the retrieved chunks so callers can show what was considered.
func (s *Service) Answer(ctx context.Context, question string) (Answer, error) {
	results, err := s.Retrieve(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	if !Gate(results, s.cfg.MinScore) {
		top := float32(0)
		if len(results) > 0 {
			top = results[0].Score
		}
		log.Info().
			Int("results", len(results)).
			Float32("top_score", top).
			Float64("min_score", s.cfg.MinScore).
			Msg("Retrieval below confidence threshold")
		return Answer{Text: models.NoInformationAnswer, Sources: results, Rejected: true}, nil
	}

	prompt := fmt.Sprintf(models.UserPromptTemplate, FormatContext(results, s.cfg.MaxContextChars), strings.TrimSpace(question))
	text, err := s.generator.Generate(ctx, models.SystemPrompt, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to generate answer: %w", err)
	}
	if text == "" {
		text = models.NoInformationAnswer
	}
	return Answer{Text: text, Sources: results}, nil
}

// Gate reports whether results are strong enough to answer from.
// results must be sorted by score, highest first.
func Gate(results []models.ScoredChunk, minScore float64) bool {
	return len(results) > 0 && float64(results[0].Score) >= minScore
}

// FormatContext renders results as annotated blocks in rank order, stopping before
// the first block that would push the total past maxChars characters.
func FormatContext(results []models.ScoredChunk, maxChars int) string {
	var blocks []string
	total := 0
	for _, r := range results {
		block := formatBlock(r)
		n := utf8.RuneCountInString(block)
		if total+n > maxChars {
			break
		}
		blocks = append(blocks, block)
		total += n
	}
	return strings.TrimSpace(strings.Join(blocks, models.ContextSeparator))
}

func formatBlock(r models.ScoredChunk) string {
	source := r.Chunk.Metadata.Source
	if source == "" {
		source = models.UnknownSource
	}
	page := models.UnknownPage
	if r.Chunk.Metadata.Page > 0 {
		page = strconv.Itoa(r.Chunk.Metadata.Page)
	}
	return fmt.Sprintf(models.ContextBlockFormat, source, page, r.Score, r.Chunk.Text)
}
