package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval, chat and ingestion metrics.
var (
	RetrievalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Retrieval duration including query embedding",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	RetrievedChunks = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieved_chunks",
		Help:      "Chunks kept per query after threshold filtering and truncation",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 24, 32, 50},
	})

	// status is "context", "no_context" or "error".
	RetrievalStatusTotal = counterVec("retrieval_total", "Retrieval outcomes", "status")

	// status is "ok", "error" or "cancelled".
	ChatTurnsTotal = counterVec("chat_turns_total", "Chat turns by outcome", "mode", "status")

	// status is "ok", "empty", "unsupported" or "error".
	IngestDocumentsTotal = counterVec("ingest_documents_total",
		"Ingested documents by outcome", "status")

	IngestChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_chunks_total",
		Help:      "Chunks written to the knowledge base",
	})
)
