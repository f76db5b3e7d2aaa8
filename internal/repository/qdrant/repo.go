package qdrant

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

const (
	payloadText   = "text"
	payloadSource = "source"
	scrollPage    = 256
)

// pointsAPI is the subset of pb.PointsClient used by the repository.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(
		ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption,
	) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used by the repository.
type collectionsAPI interface {
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	CollectionExists(
		ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption,
	) (*pb.CollectionExistsResponse, error)
}

// healthAPI is the subset of pb.QdrantClient used for liveness.
type healthAPI interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// Config holds the Qdrant connection and collection parameters.
type Config struct {
	Addr       string
	Collection string
	Dimensions int
}

// Repo stores knowledge chunks as Qdrant points with a {text, source} payload.
type Repo struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	health      healthAPI
	docs        domain.Embedder
	queries     domain.Embedder
	cfg         Config
	newID       func() string

	mu    sync.Mutex
	ready bool
}

// Dial connects to Qdrant over gRPC. The collection is created on first use.
func Dial(cfg Config, docs, queries domain.Embedder) (*Repo, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("qdrant addr is required")
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := newRepo(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), pb.NewQdrantClient(conn), docs, queries, cfg)
	r.conn = conn
	return r, nil
}

func newRepo(
	points pointsAPI, collections collectionsAPI, health healthAPI,
	docs, queries domain.Embedder, cfg Config,
) *Repo {
	return &Repo{
		points:      points,
		collections: collections,
		health:      health,
		docs:        docs,
		queries:     queries,
		cfg:         cfg,
		newID:       uuid.NewString,
	}
}

// Close releases the gRPC connection.
func (r *Repo) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close() //nolint:wrapcheck // shutdown path
}

// Ping checks that Qdrant answers health checks.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.health.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	return nil
}

// Upsert embeds chunks and writes them in a single waited request, which
// Qdrant applies all-or-nothing.
func (r *Repo) Upsert(ctx context.Context, chunks []string, source string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := r.ensureCollection(ctx); err != nil {
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

	points := make([]*pb.PointStruct, len(chunks))
	for i, text := range chunks {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.newID()}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: res.Embeddings[i]}}},
			Payload: map[string]*pb.Value{
				payloadText:   {Kind: &pb.Value_StringValue{StringValue: text}},
				payloadSource: {Kind: &pb.Value_StringValue{StringValue: source}},
			},
		}
	}

	wait := true
	if _, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, fmt.Errorf("%w: upsert %s: %w", domain.ErrVectorStore, source, err)
	}
	return len(chunks), nil
}

// Query returns up to k nearest chunks ordered by ascending cosine distance.
func (r *Repo) Query(ctx context.Context, text string, k int) ([]domain.RetrievedResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := r.ensureCollection(ctx); err != nil {
		return nil, err
	}

	emb, err := r.queries.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}

	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.cfg.Collection,
		Vector:         emb.Embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrVectorStore, err)
	}

	out := make([]domain.RetrievedResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		out = append(out, domain.RetrievedResult{
			Text:     pt.GetPayload()[payloadText].GetStringValue(),
			Source:   pt.GetPayload()[payloadSource].GetStringValue(),
			Distance: 1 - float64(pt.GetScore()), // Qdrant reports cosine similarity
		})
	}
	slices.SortStableFunc(out, func(a, b domain.RetrievedResult) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return out, nil
}

// DeleteBySource removes every point whose source payload matches.
func (r *Repo) DeleteBySource(ctx context.Context, source string) error {
	if err := r.ensureCollection(ctx); err != nil {
		return err
	}
	wait := true
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.cfg.Collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: sourceFilter(source)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrVectorStore, source, err)
	}
	return nil
}

// ClearAll drops the collection and recreates it empty. Recreation is
// attempted even when the drop fails.
func (r *Repo) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = false

	_, dropErr := r.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: r.cfg.Collection})
	if err := r.createCollection(ctx); err != nil {
		return fmt.Errorf("%w: recreate collection: %w", domain.ErrVectorStore, err)
	}
	r.ready = true
	if dropErr != nil {
		return fmt.Errorf("%w: drop collection: %w", domain.ErrVectorStore, dropErr)
	}
	return nil
}

// ListSources scrolls the whole collection and returns distinct sources, sorted.
func (r *Repo) ListSources(ctx context.Context) ([]string, error) {
	if err := r.ensureCollection(ctx); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.cfg.Collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{payloadSource}},
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll: %w", domain.ErrVectorStore, err)
		}
		for _, pt := range resp.GetResult() {
			if s := pt.GetPayload()[payloadSource].GetStringValue(); s != "" {
				seen[s] = struct{}{}
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	slices.Sort(sources)
	return sources, nil
}

// CountChunks returns the exact number of points in the collection.
func (r *Repo) CountChunks(ctx context.Context) (int, error) {
	if err := r.ensureCollection(ctx); err != nil {
		return 0, err
	}
	exact := true
	resp, err := r.points.Count(ctx, &pb.CountPoints{CollectionName: r.cfg.Collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", domain.ErrVectorStore, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (r *Repo) ensureCollection(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}

	resp, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.cfg.Collection})
	if err != nil {
		return fmt.Errorf("%w: collection exists: %w", domain.ErrVectorStore, err)
	}
	if !resp.GetResult().GetExists() {
		if err := r.createCollection(ctx); err != nil {
			return fmt.Errorf("%w: create collection: %w", domain.ErrVectorStore, err)
		}
	}
	r.ready = true
	return nil
}

func (r *Repo) createCollection(ctx context.Context) error {
	if r.cfg.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", r.cfg.Dimensions)
	}
	_, err := r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.cfg.Collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(r.cfg.Dimensions),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return err //nolint:wrapcheck // caller wraps
	}

	// Keyword index on source keeps delete-by-source a filtered scan.
	wait := true
	fieldType := pb.FieldType_FieldTypeKeyword
	_, err = r.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.cfg.Collection,
		Wait:           &wait,
		FieldName:      payloadSource,
		FieldType:      &fieldType,
	})
	return err //nolint:wrapcheck // caller wraps
}

func sourceFilter(source string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   payloadSource,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: source}},
		}},
	}}}
}
