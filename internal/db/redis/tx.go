package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragchat/internal/db"
)

// Atomic applies muts inside MULTI/EXEC in a single round-trip.
// Queue-time errors abort the whole transaction, so nothing is applied.
func (s *Store) Atomic(ctx context.Context, muts []db.Mutation) error {
	cmds := make(rueidis.Commands, 0, len(muts)+2)
	cmds = append(cmds, s.b().Multi().Build())
	for _, m := range muts {
		if m.Empty() {
			continue
		}
		cmd, err := s.mutationCmd(m)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 1 {
		return nil
	}
	cmds = append(cmds, s.b().Exec().Build())

	results := s.client.DoMulti(ctx, cmds...)
	if len(results) != len(cmds) {
		return &db.Error{Op: db.OpExec, Err: fmt.Errorf("expected %d replies, got %d", len(cmds), len(results))}
	}

	replies, err := results[len(results)-1].ToArray()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return &db.Error{Op: db.OpExec, Err: db.ErrTxAborted}
		}
		return &db.Error{Op: db.OpExec, Err: err}
	}
	for i, r := range replies {
		if err := r.Error(); err != nil {
			return &db.Error{Op: db.OpExec, Err: fmt.Errorf("command %d: %w", i, err)}
		}
	}
	return nil
}

func (s *Store) mutationCmd(m db.Mutation) (rueidis.Completed, error) {
	switch m.Kind {
	case db.MutHSet:
		return s.hsetCmd(m.Key, m.Fields), nil
	case db.MutSAdd:
		return s.b().Sadd().Key(m.Key).Member(m.Members...).Build(), nil
	case db.MutSRem:
		return s.b().Srem().Key(m.Key).Member(m.Members...).Build(), nil
	case db.MutDel:
		return s.b().Del().Key(m.Keys...).Build(), nil
	}
	return rueidis.Completed{}, fmt.Errorf("unknown mutation kind %d", m.Kind)
}
