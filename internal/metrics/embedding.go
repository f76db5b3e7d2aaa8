package metrics

// Embedding provider metrics. provider and model come from the embedding config.
var (
	EmbeddingRequestsTotal = counterVec("embedding_requests_total",
		"Embedding requests by outcome", "provider", "model", "status")

	EmbeddingRequestDuration = histogramVec("embedding_request_duration_seconds",
		"Embedding request latency",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		"provider", "model")

	// type is "prompt" or "total".
	EmbeddingTokensTotal = counterVec("embedding_tokens_total",
		"Tokens reported by the embedding provider", "provider", "model", "type")

	EmbeddingErrorsTotal = counterVec("embedding_errors_total",
		"Embedding failures by kind", "provider", "model", "error_type")

	EmbeddingRetriesTotal = counterVec("embedding_retries_total",
		"Embedding calls retried after a transient failure", "op")

	// result is "hit" or "miss".
	EmbeddingCacheTotal = counterVec("embedding_cache_total",
		"Embedding cache lookups", "result")
)
