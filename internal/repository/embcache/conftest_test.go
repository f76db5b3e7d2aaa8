package embcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// countingEmbedder returns [len(text), 1] for every text and records calls.
type countingEmbedder struct {
	single  []string
	batches [][]string
	err     error
}

func vecFor(text string) []float32 { return []float32{float32(len(text)), 1} }

func (e *countingEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.single = append(e.single, text)
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: vecFor(text), PromptTokens: 3, TotalTokens: 3}, nil
}

func (e *countingEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batches = append(e.batches, texts)
	if e.err != nil {
		return domain.BatchEmbeddingResult{}, e.err
	}
	out := domain.BatchEmbeddingResult{PromptTokens: 3 * len(texts), TotalTokens: 3 * len(texts)}
	for _, t := range texts {
		out.Embeddings = append(out.Embeddings, vecFor(t))
	}
	return out, nil
}

// mapKV is an in-memory kv. getErr and setErr simulate a failing database.
type mapKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mapKV) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, 0)
}

func (m *mapKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapKV) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

func newCache(t *testing.T, opts Options) (*CachedEmbedder, *countingEmbedder, *mapKV) {
	t.Helper()
	inner := &countingEmbedder{}
	kv := newMapKV()
	if opts.Model == "" {
		opts.Model = "nomic-embed-text"
	}
	return New(inner, kv, opts, nil, zap.NewNop()), inner, kv
}

var errDown = errors.New("valkey down")

func hasPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
	}
	return len(keys) > 0
}
