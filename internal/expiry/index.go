package expiry

import (
	"context"
	"fmt"
	"math"

	"github.com/rzbill/keywatch/internal/kv"
)

// DefaultIndexKey names the sorted set holding the delayed index.
const DefaultIndexKey = "job:delayed"

// Entry is one watched key and the deadline it is expected to expire at.
type Entry struct {
	Key      string `json:"key"`
	Deadline int64  `json:"deadlineMs"`
}

// Index is the delayed index: watched keys ordered by deadline in epoch
// milliseconds. A key appears at most once. The index is a hint; the store
// decides whether a key still exists.
type Index struct {
	zset kv.SortedSet
	name string
}

// NewIndex returns an index stored in the sorted set name of zset.
func NewIndex(zset kv.SortedSet, name string) *Index {
	if name == "" {
		name = DefaultIndexKey
	}
	return &Index{zset: zset, name: name}
}

// Name returns the sorted set name.
func (ix *Index) Name() string { return ix.name }

// Insert records key with deadlineMs, replacing any earlier deadline.
func (ix *Index) Insert(ctx context.Context, key string, deadlineMs int64) error {
	if err := ix.zset.ZAdd(ctx, ix.name, key, deadlineMs); err != nil {
		return fmt.Errorf("index insert %q: %w", key, err)
	}
	return nil
}

// RemoveIfPresent removes key. Removing an absent key is a no-op; the result
// reports whether this call removed it.
func (ix *Index) RemoveIfPresent(ctx context.Context, key string) (bool, error) {
	removed, err := ix.zset.ZRem(ctx, ix.name, key)
	if err != nil {
		return false, fmt.Errorf("index remove %q: %w", key, err)
	}
	return removed, nil
}

// RangeUpTo returns the keys whose deadline is <= thresholdMs, earliest
// first. It does not modify the index.
func (ix *Index) RangeUpTo(ctx context.Context, thresholdMs int64) ([]string, error) {
	entries, err := ix.RangePage(ctx, thresholdMs, 0, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// RangePage returns at most count entries with deadline <= thresholdMs after
// skipping offset. count <= 0 means no limit.
func (ix *Index) RangePage(ctx context.Context, thresholdMs int64, offset, count int) ([]Entry, error) {
	members, err := ix.zset.ZRangeByScore(ctx, ix.name, math.MinInt64, thresholdMs, offset, count)
	if err != nil {
		return nil, fmt.Errorf("index range: %w", err)
	}
	return toEntries(members), nil
}

// RangeFrom returns at most count entries with fromMs <= deadline <=
// thresholdMs, ordered by deadline then key. count <= 0 means no limit.
func (ix *Index) RangeFrom(ctx context.Context, fromMs, thresholdMs int64, count int) ([]Entry, error) {
	members, err := ix.zset.ZRangeByScore(ctx, ix.name, fromMs, thresholdMs, 0, count)
	if err != nil {
		return nil, fmt.Errorf("index range: %w", err)
	}
	return toEntries(members), nil
}

// Entries lists up to limit entries regardless of deadline. limit <= 0 lists
// everything.
func (ix *Index) Entries(ctx context.Context, limit int) ([]Entry, error) {
	return ix.RangePage(ctx, math.MaxInt64, 0, limit)
}

// Deadline returns the deadline recorded for key.
func (ix *Index) Deadline(ctx context.Context, key string) (int64, bool, error) {
	ms, ok, err := ix.zset.ZScore(ctx, ix.name, key)
	if err != nil {
		return 0, false, fmt.Errorf("index deadline %q: %w", key, err)
	}
	return ms, ok, nil
}

func toEntries(members []kv.ScoredMember) []Entry {
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		out = append(out, Entry{Key: m.Member, Deadline: m.Score})
	}
	return out
}
