// Package metrics defines the ragchat Prometheus collectors. Nothing is
// registered until Register is called.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ragchat"

var registerOnce sync.Once

// Register adds every ragchat collector to the default registry. Repeated
// calls are no-ops, so tests and main can both call it.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingRetriesTotal,
			EmbeddingCacheTotal,

			CompletionRequestsTotal,
			CompletionDuration,
			CompletionFirstFragment,

			RetrievalDuration,
			RetrievedChunks,
			RetrievalStatusTotal,
			ChatTurnsTotal,
			IngestDocumentsTotal,
			IngestChunksTotal,

			httpRequestsTotal,
			httpRequestDuration,
			httpInFlight,
		)
	})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}
