package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// Redis key prefix for cached query embeddings
	cacheKeyPrefix = "embed:"
	defaultTTL     = 24 * time.Hour
)

// Cache stores query embeddings by key
type Cache interface {
	// Get reports false when the key is not cached.
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// RedisCache implements Cache on top of Redis with a fixed TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v []float32
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	val, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, val, c.ttl).Err()
}

// Cached serves query embeddings from a Cache. Document embeddings pass through.
// Cache failures are logged and never fail the call.
type Cached struct {
	Embedder
	cache Cache
	model string
}

func WithCache(e Embedder, cache Cache, model string) *Cached {
	return &Cached{Embedder: e, cache: cache, model: model}
}

func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)
	if v, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Msg("Embedding cache lookup failed")
	} else if ok {
		log.Debug().Str("key", key).Msg("Embedding cache hit")
		return v, nil
	}

	v, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, v); err != nil {
		log.Warn().Err(err).Msg("Embedding cache store failed")
	}
	return v, nil
}

// CacheKey derives the cache key for text embedded with model
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + model + ":" + hex.EncodeToString(sum[:])
}
