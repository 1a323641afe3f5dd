package pebblekv

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/keywatch/internal/kv"
	pebblestore "github.com/rzbill/keywatch/internal/storage/pebble"
)

// A sorted set is two key families: z/{set}/m/{member} holding the score,
// and z/{set}/s/{score}/{member} ordered for range scans.

// ZAdd inserts member with score, replacing any previous score.
func (s *Store) ZAdd(ctx context.Context, set, member string, score int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, found, err := s.zscore(set, member)
	if err != nil {
		return err
	}
	if found && old == score {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	if found {
		if err := b.Delete(zScoreKey(set, old, member), nil); err != nil {
			return err
		}
	}
	if err := b.Set(zScoreKey(set, score, member), nil, nil); err != nil {
		return err
	}
	if err := b.Set(zMemberKey(set, member), encodeScoreValue(score), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// ZRem removes member and reports whether it was present.
func (s *Store) ZRem(ctx context.Context, set, member string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	score, found, err := s.zscore(set, member)
	if err != nil || !found {
		return false, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(zScoreKey(set, score, member), nil); err != nil {
		return false, err
	}
	if err := b.Delete(zMemberKey(set, member), nil); err != nil {
		return false, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// ZScore returns the score of member.
func (s *Store) ZScore(ctx context.Context, set, member string) (int64, bool, error) {
	if err := s.check(ctx); err != nil {
		return 0, false, err
	}
	return s.zscore(set, member)
}

func (s *Store) zscore(set, member string) (int64, bool, error) {
	raw, err := s.db.Get(zMemberKey(set, member))
	if pebblestore.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("zscore %q: %w", member, err)
	}
	score, err := decodeScoreValue(raw)
	if err != nil {
		return 0, false, fmt.Errorf("zscore %q: %w", member, err)
	}
	return score, true, nil
}

// ZRangeByScore scans members with min <= score <= max in ascending order.
func (s *Store) ZRangeByScore(ctx context.Context, set string, min, max int64, offset, count int) ([]kv.ScoredMember, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if min > max {
		return nil, nil
	}
	lower, upper := scoreBounds(set, min, max)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := zScorePrefix(set)
	var out []kv.ScoredMember
	skipped := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if skipped < offset {
			skipped++
			continue
		}
		score, member, err := parseZScoreKey(prefix, iter.Key())
		if err != nil {
			return nil, fmt.Errorf("zrange %q: %w", set, err)
		}
		out = append(out, kv.ScoredMember{Member: member, Score: score})
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, iter.Error()
}
