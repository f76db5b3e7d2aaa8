package redis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/ragchat/internal/db"
)

func TestCreateIndex_SendsDefinition(t *testing.T) {
	s, c := newMockStore(t)
	var got []string
	c.EXPECT().Do(gomock.Any(), cmdNamed("FT.CREATE")).
		DoAndReturn(func(_ context.Context, cmd rueidis.Completed) rueidis.RedisResult {
			got = cmd.Commands()
			return mock.Result(mock.RedisString("OK"))
		})

	def, err := db.NewIndex("rc:kb:idx").
		Prefix("rc:kb:chunk:").
		Vector("vector", db.VectorSpec{Dim: 768, M: 16, EFConstruction: 200}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := s.CreateIndex(context.Background(), def); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	want := "FT.CREATE rc:kb:idx ON HASH PREFIX 1 rc:kb:chunk: SCHEMA " +
		"vector VECTOR HNSW 10 TYPE FLOAT32 DIM 768 DISTANCE_METRIC COSINE M 16 EF_CONSTRUCTION 200"
	if joined := strings.Join(got, " "); joined != want {
		t.Errorf("command:\n got %q\nwant %q", joined, want)
	}
}

func TestCreateIndex_Errors(t *testing.T) {
	valid := &db.IndexDefinition{Name: "rc:kb:idx", Fields: []db.IndexField{{Name: "vector", Kind: db.FieldVector, Vector: db.VectorSpec{Dim: 4}}}}

	t.Run("already exists", func(t *testing.T) {
		s, c := newMockStore(t)
		c.EXPECT().Do(gomock.Any(), cmdNamed("FT.CREATE")).Return(mock.Result(mock.RedisError("Index already exists")))

		if err := s.CreateIndex(context.Background(), valid); !errors.Is(err, db.ErrIndexExists) {
			t.Fatalf("err = %v, want ErrIndexExists", err)
		}
	})
	t.Run("invalid definition is rejected before sending", func(t *testing.T) {
		s, _ := newMockStore(t)
		requireOp(t, s.CreateIndex(context.Background(), &db.IndexDefinition{Name: "empty"}), db.OpCreateIndex)
	})
}

func TestUnknownIndexReplies(t *testing.T) {
	// Redis and valkey-search word the same condition differently.
	replies := map[string]string{
		"redis":  "Unknown Index name",
		"valkey": "Index with name 'rc:kb:idx' not found",
	}
	for server, msg := range replies {
		t.Run(server+" drop", func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("FT.DROPINDEX", "rc:kb:idx")).Return(mock.Result(mock.RedisError(msg)))

			if err := s.DropIndex(context.Background(), "rc:kb:idx"); !errors.Is(err, db.ErrIndexNotFound) {
				t.Fatalf("err = %v, want ErrIndexNotFound", err)
			}
		})
		t.Run(server+" info", func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", "rc:kb:idx")).Return(mock.Result(mock.RedisError(msg)))

			exists, err := s.IndexExists(context.Background(), "rc:kb:idx")
			if err != nil || exists {
				t.Fatalf("IndexExists = %v, %v; want false, nil", exists, err)
			}
		})
	}
}

func TestIndexExists_True(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", "rc:kb:idx")).
		Return(mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("rc:kb:idx"))))

	exists, err := s.IndexExists(context.Background(), "rc:kb:idx")
	if err != nil || !exists {
		t.Fatalf("IndexExists = %v, %v; want true, nil", exists, err)
	}
}
