package knowledge

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// memStore is an in-memory stand-in for the Valkey store. Hooks override
// individual operations to inject failures.
type memStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]bool
	indexes map[string]*db.IndexDefinition

	createCalls int
	atomicCalls int
	existsCalls int

	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	dropIndexFn   func(ctx context.Context, name string) error
	atomicFn      func(ctx context.Context, muts []db.Mutation) error
	scanFn        func(ctx context.Context, pattern string) ([]string, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	sremFn        func(ctx context.Context, key string, members []string)
	indexExistsFn func(ctx context.Context, name string) (bool, error)
}

func newMemStore() *memStore {
	return &memStore{
		hashes:  map[string]map[string]string{},
		sets:    map[string]map[string]bool{},
		indexes: map[string]*db.IndexDefinition{},
	}
}

func (m *memStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, k := range m.allKeys() {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) allKeys() []string {
	keys := make([]string, 0, len(m.hashes)+len(m.sets))
	for k := range m.hashes {
		keys = append(keys, k)
	}
	for k := range m.sets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *memStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *memStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *memStore) SAdd(_ context.Context, key string, members ...string) error {
	m.apply([]db.Mutation{db.SAddOp(key, members...)})
	return nil
}

// SRem runs sremFn before touching the set so a test can slip a write in
// between a caller's read and its removal.
func (m *memStore) SRem(ctx context.Context, key string, members ...string) error {
	if m.sremFn != nil {
		m.sremFn(ctx, key, members)
	}
	m.apply([]db.Mutation{db.SRemOp(key, members...)})
	return nil
}

func (m *memStore) IndexExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	m.existsCalls++
	m.mu.Unlock()
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *memStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createIndexFn != nil {
		if err := m.createIndexFn(ctx, def); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	m.indexes[def.Name] = def
	return nil
}

func (m *memStore) DropIndex(ctx context.Context, name string) error {
	if m.dropIndexFn != nil {
		if err := m.dropIndexFn(ctx, name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(m.indexes, name)
	return nil
}

func (m *memStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.indexes[q.IndexName]
	if !ok {
		return nil, db.ErrIndexNotFound
	}
	var entries []db.SearchEntry
	for key, h := range m.hashes {
		if !strings.HasPrefix(key, def.Prefixes[0]) {
			continue
		}
		entries = append(entries, db.SearchEntry{
			Key:    key,
			Score:  cosineDistance(q.Vector, decodeVector(h[fieldVector])),
			Fields: map[string]string{fieldText: h[fieldText], fieldSource: h[fieldSource]},
		})
	}
	slices.SortFunc(entries, func(a, b db.SearchEntry) int { return cmp.Compare(a.Score, b.Score) })
	if len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

func (m *memStore) SearchCount(_ context.Context, index, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.indexes[index]
	if !ok {
		return 0, db.ErrIndexNotFound
	}
	n := 0
	for key := range m.hashes {
		if strings.HasPrefix(key, def.Prefixes[0]) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Atomic(ctx context.Context, muts []db.Mutation) error {
	m.mu.Lock()
	m.atomicCalls++
	m.mu.Unlock()
	if m.atomicFn != nil {
		if err := m.atomicFn(ctx, muts); err != nil {
			return err
		}
	}
	m.apply(muts)
	return nil
}

func (m *memStore) apply(muts []db.Mutation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mut := range muts {
		switch mut.Kind {
		case db.MutHSet:
			h := m.hashes[mut.Key]
			if h == nil {
				h = map[string]string{}
				m.hashes[mut.Key] = h
			}
			for f, v := range mut.Fields {
				h[f] = v
			}
		case db.MutSAdd:
			s := m.sets[mut.Key]
			if s == nil {
				s = map[string]bool{}
				m.sets[mut.Key] = s
			}
			for _, member := range mut.Members {
				s[member] = true
			}
		case db.MutSRem:
			for _, member := range mut.Members {
				delete(m.sets[mut.Key], member)
			}
			if len(m.sets[mut.Key]) == 0 {
				delete(m.sets, mut.Key)
			}
		case db.MutDel:
			for _, k := range mut.Keys {
				delete(m.hashes, k)
				delete(m.sets, k)
			}
		}
	}
}

func (m *memStore) chunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.hashes {
		if strings.Contains(k, ":chunk:") {
			n++
		}
	}
	return n
}

func decodeVector(s string) []float32 {
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// tableEmbedder returns vectors from a lookup table, {1,0,0} for unknown text.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: v}, nil
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}, nil
}

var errBoom = errors.New("boom")

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id" + strconv.Itoa(n)
	}
}

func newTestRepo(s *memStore, emb domain.Embedder) *Repo {
	r := New(s, emb, emb, Config{
		KeyPrefix:  "t:",
		Collection: "kb",
		Dimensions: 3,
	})
	r.newID = sequentialIDs()
	return r
}
