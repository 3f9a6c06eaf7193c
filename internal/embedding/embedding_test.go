package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"

	"company-rag/internal/config"
	"company-rag/internal/models"
)

type fakeEmbedder struct {
	queries int
	vector  []float32
	err     error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	n := Normalize(&fakeEmbedder{vector: []float32{3, 4}})

	q, err := n.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if math.Abs(norm(q)-1) > 1e-6 || math.Abs(float64(q[0])-0.6) > 1e-6 {
		t.Errorf("query not normalised: %v", q)
	}

	docs, err := n.EmbedDocuments(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	for i, d := range docs {
		if math.Abs(norm(d)-1) > 1e-6 {
			t.Errorf("document %d not normalised: %v", i, d)
		}
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := l2Normalize([]float32{0, 0})
	if v[0] != 0 || v[1] != 0 {
		t.Errorf("zero vector changed: %v", v)
	}
}

func TestNormalizeWithLangchainEmbedder(t *testing.T) {
	client := embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 2}
		}
		return out, nil
	})
	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(2))
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}

	vectors, err := GenerateEmbeddings(context.Background(), Normalize(impl), []models.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	if err != nil {
		t.Fatalf("GenerateEmbeddings: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for _, v := range vectors {
		if v[0] != 0 || v[1] != 1 {
			t.Errorf("unexpected vector %v", v)
		}
	}
}

func TestGenerateEmbeddingsEmpty(t *testing.T) {
	vectors, err := GenerateEmbeddings(context.Background(), &fakeEmbedder{}, nil)
	if err != nil || vectors != nil {
		t.Fatalf("expected nil, nil; got %v, %v", vectors, err)
	}
}

func TestGenerateEmbeddingsError(t *testing.T) {
	boom := errors.New("boom")
	_, err := GenerateEmbeddings(context.Background(), &fakeEmbedder{err: boom}, []models.Chunk{{Text: "a"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewEmbedderProviders(t *testing.T) {
	e, err := NewEmbedder(&config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: "http://localhost:8080/v1", Model: "bge"})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, ok := e.(*Normalized); !ok {
		t.Errorf("expected a normalising embedder, got %T", e)
	}

	if _, err := NewEmbedder(&config.LLMConfig{Provider: "word2vec"}); err == nil {
		t.Errorf("expected an error for an unknown provider")
	}
}

type mapCache struct {
	data map[string][]float32
	err  error
}

func (m *mapCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, v []float32) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = v
	return nil
}

func TestCachedSkipsOracleOnHit(t *testing.T) {
	inner := &fakeEmbedder{vector: []float32{1, 0}}
	c := WithCache(inner, &mapCache{data: map[string][]float32{}}, "bge")

	for i := 0; i < 3; i++ {
		v, err := c.EmbedQuery(context.Background(), "what is the leave policy?")
		if err != nil {
			t.Fatalf("EmbedQuery: %v", err)
		}
		if v[0] != 1 {
			t.Fatalf("unexpected vector %v", v)
		}
	}
	if inner.queries != 1 {
		t.Errorf("expected one oracle call, got %d", inner.queries)
	}
}

func TestCachedToleratesCacheFailure(t *testing.T) {
	inner := &fakeEmbedder{vector: []float32{1, 0}}
	c := WithCache(inner, &mapCache{err: errors.New("redis down")}, "bge")

	if _, err := c.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("cache failure should not fail the query: %v", err)
	}
	if inner.queries != 1 {
		t.Errorf("expected the oracle to be called")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("bge", "hello")
	if a != CacheKey("bge", "hello") {
		t.Errorf("key is not stable")
	}
	if a == CacheKey("other", "hello") || a == CacheKey("bge", "hello!") {
		t.Errorf("key does not depend on model and text")
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	inner := &fakeEmbedder{vector: []float32{0, 1}}
	c := WithCache(inner, NewRedisCache(client, time.Minute), "bge")
	v, err := c.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("unreachable redis should not fail the query: %v", err)
	}
	if len(v) != 2 || v[1] != 1 || inner.queries != 1 {
		t.Errorf("expected the oracle result, got %v after %d calls", v, inner.queries)
	}
}
