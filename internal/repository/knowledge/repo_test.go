package knowledge

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/kailas-cloud/ragchat/internal/db"
	"github.com/kailas-cloud/ragchat/internal/domain"
)

func TestKeys_Layout(t *testing.T) {
	k := keys{prefix: "ragchat:", collection: "kb"}
	tests := []struct {
		got, want string
	}{
		{k.chunk("abc"), "ragchat:{kb}:chunk:abc"},
		{k.source("a.pdf"), "ragchat:{kb}:src:a.pdf"},
		{k.sources(), "ragchat:{kb}:sources"},
		{k.index(), "ragchat:kb:idx"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestUpsert_StoresChunksAtomically(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	n, err := r.Upsert(ctx, []string{"one", "two", "three"}, "a.txt")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 3 {
		t.Errorf("added = %d, want 3", n)
	}
	if s.atomicCalls != 1 {
		t.Errorf("atomic calls = %d, want 1", s.atomicCalls)
	}
	h := s.hashes["t:{kb}:chunk:id2"]
	if h[fieldText] != "two" || h[fieldSource] != "a.txt" || len(h[fieldVector]) != 12 {
		t.Errorf("unexpected hash: %v", h)
	}
	if len(s.sets["t:{kb}:src:a.txt"]) != 3 {
		t.Errorf("source set = %v", s.sets["t:{kb}:src:a.txt"])
	}
	if !s.sets["t:{kb}:sources"]["a.txt"] {
		t.Error("source missing from inventory")
	}
}

func TestUpsert_Empty(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})

	n, err := r.Upsert(context.Background(), nil, "a.txt")
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}
	if s.createCalls != 0 || s.atomicCalls != 0 {
		t.Error("empty upsert should not touch the store")
	}
}

func TestUpsert_EmbeddingFailureWritesNothing(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{err: errBoom})

	_, err := r.Upsert(context.Background(), []string{"one"}, "a.txt")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if s.atomicCalls != 0 {
		t.Errorf("atomic calls = %d, want 0", s.atomicCalls)
	}
	if s.chunkCount() != 0 {
		t.Error("no chunk should be visible")
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := newMemStore()
	emb := &tableEmbedder{vectors: map[string][]float32{"bad": {1, 2}}}
	r := newTestRepo(s, emb)

	_, err := r.Upsert(context.Background(), []string{"ok", "bad"}, "a.txt")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if s.chunkCount() != 0 {
		t.Error("no chunk should be visible")
	}
}

func TestUpsert_TransactionFailure(t *testing.T) {
	s := newMemStore()
	s.atomicFn = func(context.Context, []db.Mutation) error { return db.ErrTxAborted }
	r := newTestRepo(s, &tableEmbedder{})

	_, err := r.Upsert(context.Background(), []string{"one", "two"}, "a.txt")
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if !errors.Is(err, db.ErrTxAborted) {
		t.Errorf("cause should be preserved, got %v", err)
	}
	if s.chunkCount() != 0 {
		t.Error("no chunk should be visible")
	}
}

func TestQuery_AscendingAndBounded(t *testing.T) {
	s := newMemStore()
	emb := &tableEmbedder{vectors: map[string][]float32{
		"exact": {1, 0, 0},
		"near":  {1, 0.2, 0},
		"far":   {0, 1, 0},
		"query": {1, 0, 0},
	}}
	r := newTestRepo(s, emb)
	ctx := context.Background()

	if _, err := r.Upsert(ctx, []string{"far", "near", "exact"}, "a.txt"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Query(ctx, "query", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "exact" || got[1].Text != "near" {
		t.Errorf("order = %q, %q", got[0].Text, got[1].Text)
	}
	if got[0].Distance > got[1].Distance {
		t.Error("results must ascend by distance")
	}
	if got[0].Source != "a.txt" {
		t.Errorf("source = %q", got[0].Source)
	}
}

func TestQuery_SortsStoreOutput(t *testing.T) {
	s := newMemStore()
	s.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "c", Score: 0.9, Fields: map[string]string{"text": "c"}},
			{Key: "a", Score: 0.1, Fields: map[string]string{"text": "a"}},
			{Key: "b", Score: 0.5, Fields: map[string]string{"text": "b"}},
		}}, nil
	}
	r := newTestRepo(s, &tableEmbedder{})

	got, err := r.Query(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	texts := []string{got[0].Text, got[1].Text, got[2].Text}
	if !slices.Equal(texts, []string{"a", "b", "c"}) {
		t.Errorf("order = %v", texts)
	}
}

func TestQuery_EmptyCollection(t *testing.T) {
	r := newTestRepo(newMemStore(), &tableEmbedder{})

	got, err := r.Query(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestQuery_MissingIndexReinitializes(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	if _, err := r.Query(ctx, "q", 5); err != nil {
		t.Fatalf("query: %v", err)
	}
	delete(s.indexes, "t:kb:idx") // dropped behind our back

	got, err := r.Query(ctx, "q", 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("got (%v, %v), want empty", got, err)
	}
	if _, err := r.Query(ctx, "q", 5); err != nil {
		t.Fatalf("query: %v", err)
	}
	if s.createCalls != 2 {
		t.Errorf("create calls = %d, want 2", s.createCalls)
	}
}

func TestQuery_EmbeddingError(t *testing.T) {
	r := newTestRepo(newMemStore(), &tableEmbedder{err: errBoom})

	_, err := r.Query(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestQuery_StoreError(t *testing.T) {
	s := newMemStore()
	s.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, errBoom
	}
	r := newTestRepo(s, &tableEmbedder{})

	_, err := r.Query(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
}

func TestDeleteBySource(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	if _, err := r.Upsert(ctx, []string{"a1", "a2"}, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Upsert(ctx, []string{"b1"}, "b.txt"); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteBySource(ctx, "a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.chunkCount() != 1 {
		t.Errorf("chunks = %d, want 1", s.chunkCount())
	}
	sources, _ := r.ListSources(ctx)
	if !slices.Equal(sources, []string{"b.txt"}) {
		t.Errorf("sources = %v", sources)
	}
}

func TestDeleteBySource_UnknownIsNoop(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})

	if err := r.DeleteBySource(context.Background(), "missing.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.atomicCalls != 0 {
		t.Errorf("atomic calls = %d, want 0", s.atomicCalls)
	}
}

func TestDeleteBySource_KeepsChunksOfConcurrentUpsert(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()
	if _, err := r.Upsert(ctx, []string{"old"}, "a.txt"); err != nil {
		t.Fatal(err)
	}

	raced := false
	s.atomicFn = func(ctx context.Context, muts []db.Mutation) error {
		if raced || muts[0].Kind != db.MutDel {
			return nil
		}
		raced = true
		// commits after DeleteBySource has read the id set
		_, err := r.Upsert(ctx, []string{"new"}, "a.txt")
		return err
	}

	if err := r.DeleteBySource(ctx, "a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !raced {
		t.Fatal("upsert never ran between read and delete")
	}
	if _, ok := s.hashes["t:{kb}:chunk:id1"]; ok {
		t.Error("chunk present at read time should be deleted")
	}
	if s.hashes["t:{kb}:chunk:id2"][fieldText] != "new" {
		t.Error("chunk of the concurrent upsert should survive")
	}
	if got := s.sets["t:{kb}:src:a.txt"]; len(got) != 1 || !got["id2"] {
		t.Errorf("source set = %v, want [id2]", got)
	}
	if sources, _ := r.ListSources(ctx); !slices.Equal(sources, []string{"a.txt"}) {
		t.Errorf("sources = %v, want [a.txt]", sources)
	}
	if got, _ := r.Query(ctx, "new", 5); len(got) != 1 || got[0].Text != "new" {
		t.Errorf("query = %v", got)
	}
}

func TestDeleteBySource_RelistsSourceUpsertedDuringUnlist(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()
	if _, err := r.Upsert(ctx, []string{"old"}, "a.txt"); err != nil {
		t.Fatal(err)
	}

	raced := false
	s.sremFn = func(ctx context.Context, key string, _ []string) {
		if raced || key != "t:{kb}:sources" {
			return
		}
		raced = true
		if _, err := r.Upsert(ctx, []string{"new"}, "a.txt"); err != nil {
			t.Errorf("upsert: %v", err)
		}
	}

	if err := r.DeleteBySource(ctx, "a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !raced {
		t.Fatal("upsert never ran before the inventory update")
	}
	if sources, _ := r.ListSources(ctx); !slices.Equal(sources, []string{"a.txt"}) {
		t.Errorf("sources = %v, want [a.txt]", sources)
	}
	if s.chunkCount() != 1 {
		t.Errorf("chunks = %d, want 1", s.chunkCount())
	}
}

func TestDeleteBySource_UnlistsSourceWithoutChunks(t *testing.T) {
	s := newMemStore()
	s.sets["t:{kb}:sources"] = map[string]bool{"ghost.txt": true, "b.txt": true}
	s.sets["t:{kb}:src:b.txt"] = map[string]bool{"id9": true}
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	if err := r.DeleteBySource(ctx, "ghost.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if sources, _ := r.ListSources(ctx); !slices.Equal(sources, []string{"b.txt"}) {
		t.Errorf("sources = %v, want [b.txt]", sources)
	}
	if s.atomicCalls != 0 {
		t.Errorf("atomic calls = %d, want 0", s.atomicCalls)
	}
}

func TestDoubleIngestThenDelete(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()
	chunks := []string{"x", "y"}

	for range 2 {
		if _, err := r.Upsert(ctx, chunks, "dup.txt"); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := r.CountChunks(ctx); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}

	if err := r.DeleteBySource(ctx, "dup.txt"); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.CountChunks(ctx); n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
	if sources, _ := r.ListSources(ctx); len(sources) != 0 {
		t.Errorf("sources = %v", sources)
	}
}

func TestClearAll_EmptiesAndRecreates(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	if _, err := r.Upsert(ctx, []string{"a", "b"}, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := r.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(s.hashes) != 0 || len(s.sets) != 0 {
		t.Errorf("leftover keys: %v", s.allKeys())
	}
	def, ok := s.indexes["t:kb:idx"]
	if !ok {
		t.Fatal("index should exist after clear")
	}
	if !strings.Contains(def.String(), "SCHEMA vector VECTOR HNSW") {
		t.Errorf("unexpected index: %s", def)
	}
	got, err := r.Query(ctx, "a", 5)
	if err != nil || len(got) != 0 {
		t.Errorf("got (%v, %v), want empty", got, err)
	}
}

func TestClearAll_RecreatesAfterFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"drop fails", func(s *memStore) {
			s.dropIndexFn = func(context.Context, string) error { return errBoom }
		}},
		{"scan fails", func(s *memStore) {
			s.scanFn = func(context.Context, string) ([]string, error) { return nil, errBoom }
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newMemStore()
			r := newTestRepo(s, &tableEmbedder{})
			ctx := context.Background()
			if _, err := r.Upsert(ctx, []string{"a"}, "a.txt"); err != nil {
				t.Fatal(err)
			}
			tc.setup(s)

			err := r.ClearAll(ctx)
			if !errors.Is(err, domain.ErrVectorStore) {
				t.Fatalf("expected ErrVectorStore, got %v", err)
			}
			if _, ok := s.indexes["t:kb:idx"]; !ok {
				t.Error("index must exist after a failed clear")
			}
			if _, err := r.Query(ctx, "a", 1); err != nil {
				t.Errorf("collection should stay queryable: %v", err)
			}
		})
	}
}

func TestEnsureIndex_RetriesAfterFailure(t *testing.T) {
	s := newMemStore()
	fail := true
	s.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		if fail {
			fail = false
			return errBoom
		}
		return nil
	}
	r := newTestRepo(s, &tableEmbedder{})
	ctx := context.Background()

	if _, err := r.Query(ctx, "q", 1); !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if _, err := r.Query(ctx, "q", 1); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
}

func TestEnsureIndex_ExistingIndex(t *testing.T) {
	tests := []struct {
		name        string
		exists      func(context.Context, string) (bool, error)
		wantErr     error
		wantCreates int
	}{
		{
			name:        "present",
			exists:      func(context.Context, string) (bool, error) { return true, nil },
			wantCreates: 0,
		},
		{
			name:        "missing",
			exists:      func(context.Context, string) (bool, error) { return false, nil },
			wantCreates: 1,
		},
		{
			name:    "lookup fails",
			exists:  func(context.Context, string) (bool, error) { return false, errBoom },
			wantErr: domain.ErrVectorStore,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newMemStore()
			s.indexExistsFn = tc.exists
			r := newTestRepo(s, &tableEmbedder{})

			_, err := r.Upsert(context.Background(), []string{"a"}, "a.txt")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if s.createCalls != tc.wantCreates {
				t.Errorf("create calls = %d, want %d", s.createCalls, tc.wantCreates)
			}
			if s.existsCalls != 1 {
				t.Errorf("exists calls = %d, want 1", s.existsCalls)
			}
		})
	}
}

func TestEnsureIndex_ConcurrentCallersInitOnce(t *testing.T) {
	s := newMemStore()
	r := newTestRepo(s, &tableEmbedder{})

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			_, _ = r.ListSources(context.Background())
			_, _ = r.Query(context.Background(), "q", 1)
		})
	}
	wg.Wait()

	if s.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", s.createCalls)
	}
}

func TestIndexDefinition_Flat(t *testing.T) {
	r := New(newMemStore(), &tableEmbedder{}, &tableEmbedder{}, Config{
		Collection: "kb", Dimensions: 8, Algorithm: db.VectorFlat,
	})
	def, err := r.indexDefinition()
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "ragchat:kb:idx" || def.Prefixes[0] != "ragchat:{kb}:chunk:" {
		t.Errorf("unexpected definition: %+v", def)
	}
	if def.Fields[0].Vector.Algorithm != db.VectorFlat {
		t.Errorf("algo = %s", def.Fields[0].Vector.Algorithm)
	}
}

func TestIndexDefinition_RequiresDimensions(t *testing.T) {
	r := New(newMemStore(), &tableEmbedder{}, &tableEmbedder{}, Config{Collection: "kb"})
	if _, err := r.indexDefinition(); err == nil {
		t.Fatal("expected error")
	}
}
