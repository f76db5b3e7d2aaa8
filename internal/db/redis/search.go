package redis

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragchat/internal/db"
)

const (
	scoreField         = "__vector_score"
	defaultVectorField = "vector"
)

// SearchKNN runs FT.SEARCH with a KNN clause over the whole index. Entries
// come back in server order; callers sort by Score when it matters.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if err := validateKNN(q); err != nil {
		return nil, err
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(knnArgs(q)...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, searchErr(err)
	}
	return parseKNNResult(raw)
}

// SearchCount returns the number of documents matching query.
func (s *Store) SearchCount(ctx context.Context, index, query string) (int, error) {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(index, query, "LIMIT", "0", "0").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return 0, searchErr(err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := raw[0].AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpSearch, Err: fmt.Errorf("count reply: %w", err)}
	}
	return int(n), nil
}

func validateKNN(q *db.KNNQuery) error {
	switch {
	case q.IndexName == "":
		return errors.New("knn: index name is required")
	case len(q.Vector) == 0:
		return errors.New("knn: vector is required")
	case q.K <= 0:
		return fmt.Errorf("knn: k must be positive, got %d", q.K)
	}
	return nil
}

// knnArgs builds
//
//	<index> *=>[KNN k @field $BLOB AS __vector_score]
//	  [RETURN n fields... __vector_score] LIMIT 0 k PARAMS 2 BLOB <vec> DIALECT 2
func knnArgs(q *db.KNNQuery) []string {
	field := cmp.Or(q.VectorField, defaultVectorField)
	k := strconv.Itoa(q.K)

	args := []string{q.IndexName, "*=>[KNN " + k + " @" + field + " $BLOB AS " + scoreField + "]"}
	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, scoreField)
	}
	return append(args,
		"LIMIT", "0", k,
		"PARAMS", "2", "BLOB", VectorToBytes(q.Vector),
		"DIALECT", "2",
	)
}

func searchErr(err error) error {
	if isUnknownIndex(err) {
		return db.ErrIndexNotFound
	}
	return &db.Error{Op: db.OpSearch, Err: err}
}

// parseKNNResult reads the RESP2 reply [total, key1, [f, v, ...], key2, ...].
func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: fmt.Errorf("total: %w", err)}
	}

	out := &db.SearchResult{Total: int(total)}
	for i := 1; i+1 < len(raw); i += 2 {
		key, kerr := raw[i].ToString()
		pairs, ferr := raw[i+1].ToArray()
		if kerr != nil || ferr != nil {
			continue
		}
		entry := db.SearchEntry{Key: key, Fields: fieldMap(pairs)}
		if v, ok := entry.Fields[scoreField]; ok {
			delete(entry.Fields, scoreField)
			if dist, err := strconv.ParseFloat(v, 64); err == nil {
				entry.Score = dist
			}
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

func fieldMap(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name, nerr := pairs[i].ToString()
		value, verr := pairs[i+1].ToString()
		if nerr == nil && verr == nil {
			m[name] = value
		}
	}
	return m
}

// VectorToBytes packs v as little-endian float32, the FT vector blob layout.
func VectorToBytes(v []float32) string {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return string(buf)
}
