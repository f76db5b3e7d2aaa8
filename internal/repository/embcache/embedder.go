// Package embcache memoizes embeddings in the key-value side of the database.
// Re-ingesting a document or repeating a question then costs no model call.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// kv is the slice of db.KVStore the cache needs.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options scope cache entries. Model is part of the key so switching the
// embedding model never serves vectors of the wrong space.
type Options struct {
	KeyPrefix string
	Model     string
	TTL       time.Duration // zero keeps entries forever
}

// CachedEmbedder serves embeddings from kv and asks inner only for misses.
// Cache read and write failures are logged and otherwise ignored.
type CachedEmbedder struct {
	inner   domain.Embedder
	kv      kv
	opts    Options
	lookups *prometheus.CounterVec // label "result": hit or miss; may be nil
	logger  *zap.Logger
}

// New wraps inner with a cache in kv.
func New(
	inner domain.Embedder,
	store kv,
	opts Options,
	lookups *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = domain.DefaultKeyPrefix
	}
	return &CachedEmbedder{inner: inner, kv: store, opts: opts, lookups: lookups, logger: logger}
}

// Embed returns the cached vector for text, or embeds and stores it.
// A hit reports zero tokens.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.key(text)
	if vec, ok := c.load(ctx, key); ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	c.store(ctx, key, res.Embedding)
	return res, nil
}

// BatchEmbed resolves hits from the cache and sends the misses to inner as
// one batch. Token counts cover the misses only.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	keys := make([]string, len(texts))
	var pending []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.load(ctx, keys[i]); ok {
			out.Embeddings[i] = vec
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	misses := make([]string, len(pending))
	for j, i := range pending {
		misses[j] = texts[i]
	}
	res, err := domain.EmbedAll(ctx, c.inner, misses)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed %d uncached texts: %w", len(misses), err)
	}
	if len(res.Embeddings) != len(misses) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed uncached texts: got %d vectors for %d texts: %w",
			len(res.Embeddings), len(misses), domain.ErrEmbedding)
	}

	for j, i := range pending {
		out.Embeddings[i] = res.Embeddings[j]
		c.store(ctx, keys[i], res.Embeddings[j])
	}
	out.PromptTokens, out.TotalTokens = res.PromptTokens, res.TotalTokens
	return out, nil
}

// HealthCheck forwards to inner when it supports health checks.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // pass-through
	}
	return nil
}

// key is <prefix>emb_cache:<sha256(model NUL text)>.
func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.opts.Model + "\x00" + text))
	return c.opts.KeyPrefix + "emb_cache:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) load(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
	case err != nil:
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
	default:
		if vec, ok := decode(data); ok {
			c.count("hit")
			return vec, true
		}
		c.logger.Warn("Discarding malformed cached embedding", zap.String("key", key), zap.Int("bytes", len(data)))
	}
	c.count("miss")
	return nil, false
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	data := encode(vec)
	var err error
	if c.opts.TTL > 0 {
		err = c.kv.SetWithTTL(ctx, key, data, c.opts.TTL)
	} else {
		err = c.kv.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedEmbedder) count(result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(result).Inc()
	}
}

// encode packs v as little-endian float32, the same layout the FT index uses.
func encode(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decode(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, true
}
