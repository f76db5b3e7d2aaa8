package knowledge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/db/redis"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

// store is the consumer interface for the knowledge base (ISP).
type store interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
	Atomic(ctx context.Context, muts []db.Mutation) error
}

// Config describes one collection and its vector index.
type Config struct {
	KeyPrefix      string
	Collection     string
	Dimensions     int
	Algorithm      db.VectorAlgorithm
	HNSWM          int
	EFConstruction int
}

// Repo is the Valkey/Redis implementation of the knowledge base.
// Documents are embedded with docs, queries with queries; the two usually
// differ only in their instruction prefix.
type Repo struct {
	store   store
	docs    domain.Embedder
	queries domain.Embedder
	keys    keys
	cfg     Config
	newID   func() string

	mu    sync.Mutex
	ready bool
}

// New creates a knowledge repository. The index is created on first use.
func New(s store, docs, queries domain.Embedder, cfg Config) *Repo {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = domain.DefaultKeyPrefix
	}
	return &Repo{
		store:   s,
		docs:    docs,
		queries: queries,
		keys:    keys{prefix: cfg.KeyPrefix, collection: cfg.Collection},
		cfg:     cfg,
		newID:   uuid.NewString,
	}
}

// Upsert embeds chunks and stores them under source in one transaction.
// Either every chunk becomes visible or none does.
func (r *Repo) Upsert(ctx context.Context, chunks []string, source string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := r.ensureIndex(ctx); err != nil {
		return 0, err
	}

	res, err := domain.EmbedAll(ctx, r.docs, chunks)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	if len(res.Embeddings) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks",
			domain.ErrEmbedding, len(res.Embeddings), len(chunks))
	}

	muts := make([]db.Mutation, 0, len(chunks)+2)
	ids := make([]string, len(chunks))
	for i, text := range chunks {
		vec := res.Embeddings[i]
		if r.cfg.Dimensions > 0 && len(vec) != r.cfg.Dimensions {
			return 0, fmt.Errorf("%w: vector dimension %d, index expects %d",
				domain.ErrEmbedding, len(vec), r.cfg.Dimensions)
		}
		ids[i] = r.newID()
		muts = append(muts, db.HSetOp(r.keys.chunk(ids[i]), map[string]string{
			fieldText:   text,
			fieldSource: source,
			fieldVector: redis.VectorToBytes(vec),
		}))
	}
	muts = append(muts,
		db.SAddOp(r.keys.source(source), ids...),
		db.SAddOp(r.keys.sources(), source),
	)

	if err := r.store.Atomic(ctx, muts); err != nil {
		return 0, fmt.Errorf("%w: upsert %s: %w", domain.ErrVectorStore, source, err)
	}
	return len(chunks), nil
}

// Query returns up to k nearest chunks ordered by ascending cosine distance.
// An empty or missing collection yields an empty result.
func (r *Repo) Query(ctx context.Context, text string, k int) ([]domain.RetrievedResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}

	emb, err := r.queries.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.keys.index(),
		VectorField:  fieldVector,
		Vector:       emb.Embedding,
		K:            k,
		ReturnFields: []string{fieldText, fieldSource},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			r.markStale()
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query: %w", domain.ErrVectorStore, err)
	}

	out := make([]domain.RetrievedResult, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, domain.RetrievedResult{
			Text:     e.Fields[fieldText],
			Source:   e.Fields[fieldSource],
			Distance: e.Score,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.RetrievedResult) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// DeleteBySource removes every chunk of source present when the call starts.
// Unknown sources are a no-op. Chunks written by a concurrent Upsert of the
// same source survive, and the source stays listed while any of them remain.
func (r *Repo) DeleteBySource(ctx context.Context, source string) error {
	srcKey := r.keys.source(source)
	ids, err := r.store.SMembers(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("%w: members %s: %w", domain.ErrVectorStore, source, err)
	}

	if len(ids) > 0 {
		del := make([]string, len(ids))
		for i, id := range ids {
			del[i] = r.keys.chunk(id)
		}
		// SREM only the ids read above; a DEL of srcKey would orphan new chunks.
		if err := r.store.Atomic(ctx, []db.Mutation{
			db.DelOp(del...),
			db.SRemOp(srcKey, ids...),
		}); err != nil {
			return fmt.Errorf("%w: delete %s: %w", domain.ErrVectorStore, source, err)
		}
	}

	if err := r.unlistIfEmpty(ctx, source); err != nil {
		return fmt.Errorf("%w: unlist %s: %w", domain.ErrVectorStore, source, err)
	}
	return nil
}

// unlistIfEmpty removes source from the inventory once its id set is empty.
// An Upsert that commits between the first SCARD and the SREM is caught by
// the second SCARD, which lists the source again.
func (r *Repo) unlistIfEmpty(ctx context.Context, source string) error {
	srcKey := r.keys.source(source)
	n, err := r.store.SCard(ctx, srcKey)
	if err != nil || n > 0 {
		return err //nolint:wrapcheck // caller wraps
	}
	if err := r.store.SRem(ctx, r.keys.sources(), source); err != nil {
		return err //nolint:wrapcheck // caller wraps
	}
	if n, err = r.store.SCard(ctx, srcKey); err != nil || n == 0 {
		return err //nolint:wrapcheck // caller wraps
	}
	return r.store.SAdd(ctx, r.keys.sources(), source) //nolint:wrapcheck // caller wraps
}

// ClearAll drops every chunk and the index, then recreates the index empty.
// The index is recreated even when an earlier step fails, so the collection
// stays queryable.
func (r *Repo) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = false

	var errs []error
	if err := r.store.DropIndex(ctx, r.keys.index()); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		errs = append(errs, fmt.Errorf("drop index: %w", err))
	}
	if err := r.deleteAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.createIndex(ctx); err != nil {
		errs = append(errs, fmt.Errorf("recreate index: %w", err))
	} else {
		r.ready = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: clear: %w", domain.ErrVectorStore, errors.Join(errs...))
	}
	return nil
}

// deleteBatch bounds the number of keys per DEL inside the clear transaction.
const deleteBatch = 500

func (r *Repo) deleteAll(ctx context.Context) error {
	var all []string
	for _, pattern := range []string{r.keys.chunkPrefix() + "*", r.keys.sourcePrefix() + "*"} {
		found, err := r.store.Scan(ctx, pattern)
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		all = append(all, found...)
	}
	all = append(all, r.keys.sources())

	muts := make([]db.Mutation, 0, len(all)/deleteBatch+1)
	for batch := range slices.Chunk(all, deleteBatch) {
		muts = append(muts, db.DelOp(batch...))
	}
	if err := r.store.Atomic(ctx, muts); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

// ListSources returns every distinct source name, sorted.
func (r *Repo) ListSources(ctx context.Context) ([]string, error) {
	sources, err := r.store.SMembers(ctx, r.keys.sources())
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %w", domain.ErrVectorStore, err)
	}
	slices.Sort(sources)
	return sources, nil
}

// CountChunks returns the number of indexed chunks.
func (r *Repo) CountChunks(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.keys.index(), "*")
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: count: %w", domain.ErrVectorStore, err)
	}
	return n, nil
}

// ensureIndex checks for the index once per process and creates it when
// missing. A failed attempt is retried by the next caller.
func (r *Repo) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	exists, err := r.store.IndexExists(ctx, r.keys.index())
	if err != nil {
		return fmt.Errorf("%w: init index: %w", domain.ErrVectorStore, err)
	}
	if !exists {
		if err := r.createIndex(ctx); err != nil {
			return fmt.Errorf("%w: init index: %w", domain.ErrVectorStore, err)
		}
	}
	r.ready = true
	return nil
}

func (r *Repo) markStale() {
	r.mu.Lock()
	r.ready = false
	r.mu.Unlock()
}

func (r *Repo) createIndex(ctx context.Context) error {
	def, err := r.indexDefinition()
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return err //nolint:wrapcheck // caller wraps
	}
	return nil
}

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	if r.cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", r.cfg.Dimensions)
	}
	// M and EF_CONSTRUCTION are dropped for FLAT.
	return db.NewIndex(r.keys.index()).
		Prefix(r.keys.chunkPrefix()).
		Vector(fieldVector, db.VectorSpec{
			Algorithm:      r.cfg.Algorithm,
			Dim:            r.cfg.Dimensions,
			Distance:       db.DistanceCosine,
			M:              r.cfg.HNSWM,
			EFConstruction: r.cfg.EFConstruction,
		}).
		Build() //nolint:wrapcheck // caller wraps
}
