package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
	"github.com/kailas-cloud/ragchat/internal/observability"
)

// Params are the retrieval knobs. PreRankN >= TopN is expected; a smaller
// PreRankN only narrows the candidate pool.
type Params struct {
	PreRankN          int
	TopN              int
	DistanceThreshold float64 // cosine distance, 0 identical, 2 opposite
}

// Validate rejects params that cannot produce results.
func (p Params) Validate() error {
	if p.PreRankN <= 0 || p.TopN <= 0 {
		return fmt.Errorf("pre_rank_n and top_n must be positive: %w", domain.ErrInvalidInput)
	}
	if p.DistanceThreshold < 0 || p.DistanceThreshold > 2 {
		return fmt.Errorf("distance threshold %v outside [0, 2]: %w", p.DistanceThreshold, domain.ErrInvalidInput)
	}
	return nil
}

// DistanceOrder keeps the store's ascending distance order.
type DistanceOrder struct{}

// Rerank returns results unchanged.
func (DistanceOrder) Rerank(_ string, results []domain.RetrievedResult) []domain.RetrievedResult {
	return results
}

// Service looks up context chunks for a query.
type Service struct {
	store    Store
	reranker Reranker
	params   Params
	logger   *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithReranker replaces the default DistanceOrder policy.
func WithReranker(r Reranker) Option {
	return func(s *Service) { s.reranker = r }
}

// New creates a retrieval service with default params.
func New(store Store, params Params, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{store: store, reranker: DistanceOrder{}, params: params, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Params returns the configured defaults.
func (s *Service) Params() Params { return s.params }

// Retrieve runs RetrieveWith using the configured params.
func (s *Service) Retrieve(ctx context.Context, query string) ([]string, error) {
	return s.RetrieveWith(ctx, query, s.params)
}

// RetrieveWith returns the text of up to TopN chunks within DistanceThreshold
// of query. An empty result is domain.ErrNoContext; store and embedding
// failures keep their sentinels so callers can tell the paths apart.
func (s *Service) RetrieveWith(ctx context.Context, query string, p Params) ([]string, error) {
	ctx, span := observability.StartRetrievalSpan(ctx, p.PreRankN, p.TopN, p.DistanceThreshold)
	defer span.End()

	start := time.Now()
	texts, err := s.retrieve(ctx, query, p)
	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.RetrievalStatusTotal.WithLabelValues("context").Inc()
	case errors.Is(err, domain.ErrNoContext):
		metrics.RetrievalStatusTotal.WithLabelValues("no_context").Inc()
	default:
		metrics.RetrievalStatusTotal.WithLabelValues("error").Inc()
		observability.RecordError(span, err)
	}
	metrics.RetrievedChunks.Observe(float64(len(texts)))

	return texts, err
}

func (s *Service) retrieve(ctx context.Context, query string, p Params) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	results, err := s.store.Query(ctx, query, p.PreRankN)
	if err != nil {
		return nil, fmt.Errorf("query knowledge base: %w", err)
	}

	kept := withinThreshold(results, p.DistanceThreshold)
	kept = s.reranker.Rerank(query, kept)
	if len(kept) > p.TopN {
		kept = kept[:p.TopN]
	}

	s.logger.Debug("Retrieved context",
		zap.Int("candidates", len(results)),
		zap.Int("kept", len(kept)),
		zap.Float64("threshold", p.DistanceThreshold),
	)

	if len(kept) == 0 {
		return nil, domain.ErrNoContext
	}

	texts := make([]string, len(kept))
	for i, r := range kept {
		texts[i] = r.Text
	}
	return texts, nil
}

// withinThreshold keeps results with distance <= threshold, preserving order.
func withinThreshold(results []domain.RetrievedResult, threshold float64) []domain.RetrievedResult {
	kept := make([]domain.RetrievedResult, 0, len(results))
	for _, r := range results {
		if r.Distance <= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}
