package redis

import (
	"context"

	"github.com/kailas-cloud/ragchat/internal/db"
)

// SAdd and SRem skip the round-trip when members is empty.

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.exec(ctx, db.OpSAdd, s.b().Sadd().Key(key).Member(members...).Build())
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.exec(ctx, db.OpSRem, s.b().Srem().Key(key).Member(members...).Build())
}

// SMembers returns nil members for a missing key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.do(ctx, s.b().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpSMembers, Err: err}
	}
	return members, nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.do(ctx, s.b().Scard().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpSCard, Err: err}
	}
	return n, nil
}
