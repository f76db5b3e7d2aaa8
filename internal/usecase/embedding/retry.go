package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// RetryConfig bounds each embedding attempt and the number of retries.
type RetryConfig struct {
	Retries int           // extra attempts after the first; 0 disables retrying
	Timeout time.Duration // per-attempt timeout; 0 means none
	Delay   time.Duration // pause before a retry
}

// DefaultRetryConfig retries a transient failure once.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Retries: 1, Timeout: 30 * time.Second, Delay: 250 * time.Millisecond}
}

// RetryEmbedder retries transient embedding failures with a per-attempt timeout.
// A cancelled parent context is never retried.
type RetryEmbedder struct {
	inner  domain.Embedder
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryEmbedder wraps inner with timeout and retry logic.
func NewRetryEmbedder(inner domain.Embedder, cfg RetryConfig, logger *zap.Logger) *RetryEmbedder {
	return &RetryEmbedder{inner: inner, cfg: cfg, logger: logger}
}

// Embed embeds one text, retrying transient failures.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var res domain.EmbeddingResult
	err := r.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		res, err = r.inner.Embed(ctx, text)
		return err //nolint:wrapcheck // wrapped by do
	})
	return res, err
}

// BatchEmbed embeds texts, retrying the whole batch on transient failure.
func (r *RetryEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var res domain.BatchEmbeddingResult
	err := r.do(ctx, "batch_embed", func(ctx context.Context) error {
		var err error
		res, err = domain.EmbedAll(ctx, r.inner, texts)
		return err //nolint:wrapcheck // wrapped by do
	})
	return res, err
}

// HealthCheck forwards to inner when it supports health checks.
func (r *RetryEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := r.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // pass-through
	}
	return nil
}

func (r *RetryEmbedder) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.EmbeddingRetriesTotal.WithLabelValues(op).Inc()
			r.logger.Warn("Retrying embedding request",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(r.cfg.Delay):
			}
		}

		attemptCtx, cancel := r.attemptContext(ctx)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: retries exhausted (%d): %w", op, r.cfg.Retries, lastErr)
}

func (r *RetryEmbedder) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

// retryable reports transient provider errors and attempt timeouts. The
// caller has already ruled out a cancelled parent.
func (r *RetryEmbedder) retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
