package db

import (
	"context"
	"time"
)

// Store is everything a Valkey or Redis backend offers. Repositories depend
// on the narrow interfaces below instead.
//
//nolint:interfacebloat // aggregate of the narrow interfaces
type Store interface {
	Pinger
	KeyStore
	SetStore
	KVStore
	IndexManager
	Searcher
	Transactor
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyStore walks the keyspace. Chunk hashes are written and deleted through
// Transactor only.
type KeyStore interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// SetStore covers the source and per-source chunk membership sets.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
}

// KVStore is a plain byte-string store with optional expiry.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IndexManager creates and drops FT indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher queries FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Transactor applies a batch of writes atomically: readers observe all of them or none.
type Transactor interface {
	Atomic(ctx context.Context, muts []Mutation) error
}
