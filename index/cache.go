package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores embeddings by model and text. Implementations must be safe
// for concurrent use.
type Cache interface {
	// GetMany returns one vector per key; missing entries are nil.
	GetMany(ctx context.Context, model string, texts []string) ([][]float32, error)
	SetMany(ctx context.Context, model string, texts []string, vecs [][]float32) error
}

// RedisOptions configures the Redis embedding cache.
type RedisOptions struct {
	URL            string        `json:"url" yaml:"url"`
	Prefix         string        `json:"prefix" yaml:"prefix"`
	TTL            time.Duration `json:"ttl" yaml:"ttl"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// RedisCache is a Cache backed by Redis strings holding little-endian
// float32 vectors.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "medgraph:emb:"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("index: parse redis url: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("index: connect to redis: %w", err)
	}
	return &RedisCache{client: client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) GetMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(model, t)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("index: cache get: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *RedisCache) SetMany(ctx context.Context, model string, texts []string, vecs [][]float32) error {
	if len(texts) != len(vecs) {
		return fmt.Errorf("index: cache set: %d texts for %d vectors", len(texts), len(vecs))
	}
	pipe := c.client.Pipeline()
	for i, t := range texts {
		pipe.Set(ctx, c.key(model, t), serializeFloat32(vecs[i]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index: cache set: %w", err)
	}
	return nil
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("index: corrupt cached vector")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
