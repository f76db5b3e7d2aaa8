package metrics

import "github.com/prometheus/client_golang/prometheus"

// Chat completion metrics. mode is "stream" or "complete".
var (
	CompletionRequestsTotal = counterVec("completion_requests_total",
		"Chat completion requests by outcome", "model", "mode", "status")

	CompletionDuration = histogramVec("completion_duration_seconds",
		"Chat completion duration, until the last fragment",
		[]float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		"model", "mode")

	CompletionFirstFragment = histogramVec("completion_first_fragment_seconds",
		"Time until the first streamed fragment",
		prometheus.ExponentialBuckets(0.05, 2, 8),
		"model")
)
