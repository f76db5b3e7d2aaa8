package retrieval

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Store is the similarity search side of the vector store adapter.
// Results are ascending by distance.
type Store interface {
	Query(ctx context.Context, text string, k int) ([]domain.RetrievedResult, error)
}

// Reranker reorders threshold-filtered candidates before truncation to top_n.
// Implementations must not add results.
type Reranker interface {
	Rerank(query string, results []domain.RetrievedResult) []domain.RetrievedResult
}
