package redis

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/db"
)

// CreateIndex issues FT.CREATE for def. An existing index maps to db.ErrIndexExists.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := def.Args()
	if err != nil {
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	err = s.do(ctx, s.b().Arbitrary("FT.CREATE").Args(args...).Build()).Error()
	switch {
	case err == nil:
		return nil
	case isRedisErr(err, "index already exists"):
		return db.ErrIndexExists
	}
	return &db.Error{Op: db.OpCreateIndex, Err: err}
}

// DropIndex removes the index only; chunk hashes stay until deleted explicitly.
func (s *Store) DropIndex(ctx context.Context, name string) error {
	err := s.do(ctx, s.b().Arbitrary("FT.DROPINDEX").Args(name).Build()).Error()
	switch {
	case err == nil:
		return nil
	case isUnknownIndex(err):
		return db.ErrIndexNotFound
	}
	return &db.Error{Op: db.OpDropIndex, Err: err}
}

// IndexExists asks FT.INFO; an unknown-index reply means false.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	err := s.do(ctx, s.b().Arbitrary("FT.INFO").Args(name).Build()).Error()
	switch {
	case err == nil:
		return true, nil
	case isUnknownIndex(err):
		return false, nil
	}
	return false, &db.Error{Op: db.OpIndexInfo, Err: err}
}

// Redis replies "Unknown index name"; valkey-search replies "Index with name '...' not found".
func isUnknownIndex(err error) bool {
	return isRedisErr(err, "unknown index name") || isRedisErr(err, "not found")
}
