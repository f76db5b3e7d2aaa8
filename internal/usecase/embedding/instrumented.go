// Package embedding holds the decorators stacked around the embedding provider.
package embedding

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// DefaultMaxAPIBatchSize caps the number of texts per provider request.
const DefaultMaxAPIBatchSize = 256

// InstrumentedEmbedder logs every provider call and splits large batches into
// requests of at most maxBatch texts. Request metrics live in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	log      *zap.Logger
	maxBatch int
}

// NewInstrumentedEmbedder wraps inner. provider and model tag every log line.
func NewInstrumentedEmbedder(inner domain.Embedder, provider, model string, logger *zap.Logger) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		log:      logger.With(zap.String("provider", provider), zap.String("model", model)),
		maxBatch: DefaultMaxAPIBatchSize,
	}
}

// WithMaxBatch overrides DefaultMaxAPIBatchSize. Non-positive values are ignored.
func (p *InstrumentedEmbedder) WithMaxBatch(n int) *InstrumentedEmbedder {
	if n > 0 {
		p.maxBatch = n
	}
	return p
}

// Embed delegates one text.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	res, err := p.inner.Embed(ctx, text)
	if err != nil {
		p.log.Error("Embedding request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	p.log.Debug("Embedding request completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("dimensions", len(res.Embedding)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}

// BatchEmbed embeds texts in sub-batches and concatenates the results in
// input order. The first failing sub-batch aborts the call.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	offset := 0
	for part := range slices.Chunk(texts, p.maxBatch) {
		res, err := domain.EmbedAll(ctx, p.inner, part)
		if err == nil && len(res.Embeddings) != len(part) {
			err = fmt.Errorf("got %d vectors for %d texts: %w", len(res.Embeddings), len(part), domain.ErrEmbedding)
		}
		if err != nil {
			p.log.Error("Batch embedding request failed",
				zap.Int("offset", offset),
				zap.Int("size", len(part)),
				zap.Int("total", len(texts)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed at %d: %w", offset, err)
		}
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
		offset += len(part)
	}

	p.log.Debug("Batch embedding completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("texts", len(texts)),
		zap.Int("requests", (len(texts)+p.maxBatch-1)/p.maxBatch),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// HealthCheck forwards to inner when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // pass-through
	}
	return nil
}
