package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragchat/internal/db"
)

// scanPageSize is the COUNT hint sent with every SCAN page.
const scanPageSize = 100

// hsetCmd builds the HSET queued by Atomic. Chunk hashes are only ever
// written inside a transaction.
func (s *Store) hsetCmd(key string, fields map[string]string) rueidis.Completed {
	b := s.b().Hset().Key(key).FieldValue()
	for name, value := range fields {
		b = b.FieldValue(name, value)
	}
	return b.Build()
}

// Scan walks the whole keyspace for pattern. Keys may repeat across pages
// when the keyspace is resized mid-scan.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, err := s.do(ctx, s.b().Scan().Cursor(cursor).Match(pattern).Count(scanPageSize).Build()).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, page.Elements...)
		if cursor = page.Cursor; cursor == 0 {
			return keys, nil
		}
	}
}

// exec runs a command whose reply only matters for its error.
func (s *Store) exec(ctx context.Context, op string, cmd rueidis.Completed) error {
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: op, Err: err}
	}
	return nil
}
