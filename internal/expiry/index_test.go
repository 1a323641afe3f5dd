package expiry

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRemoveIfPresentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(openStore(t, newManualClock()), "")
	assert.Equal(t, DefaultIndexKey, ix.Name())

	require.NoError(t, ix.Insert(ctx, "k", 100))

	removed, err := ix.RemoveIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = ix.RemoveIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = ix.RemoveIfPresent(ctx, "never-added")
	require.NoError(t, err)
	assert.False(t, removed)

	keys, err := ix.RangeUpTo(ctx, 1000)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIndexInsertReplacesDeadline(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(openStore(t, newManualClock()), "job:delayed")

	require.NoError(t, ix.Insert(ctx, "k", 500))
	require.NoError(t, ix.Insert(ctx, "k", 50))
	require.NoError(t, ix.Insert(ctx, "k", 50))

	ms, ok, err := ix.Deadline(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(50), ms)

	entries, err := ix.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "k", Deadline: 50}}, entries)
}

func TestIndexRangeUpToMatchesDeadlines(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(openStore(t, newManualClock()), "")
	rng := rand.New(rand.NewSource(7))

	deadlines := map[string]int64{}
	for i := 0; i < 200; i++ {
		key := string(rune('A'+i%26)) + string(rune('a'+i/26))
		deadlines[key] = rng.Int63n(1000) - 100
	}
	// insert in random order
	keys := make([]string, 0, len(deadlines))
	for k := range deadlines {
		keys = append(keys, k)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys {
		require.NoError(t, ix.Insert(ctx, k, deadlines[k]))
	}

	for _, threshold := range []int64{-200, -100, 0, 1, 250, 499, 899, 2000} {
		got, err := ix.RangeUpTo(ctx, threshold)
		require.NoError(t, err)

		var want []string
		for k, d := range deadlines {
			if d <= threshold {
				want = append(want, k)
			}
		}
		assert.ElementsMatch(t, want, got, "threshold %d", threshold)

		// ascending by deadline
		assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
			return deadlines[got[i]] < deadlines[got[j]]
		}), "threshold %d not ordered", threshold)
	}

	// restartable and side-effect free
	first, err := ix.RangeUpTo(ctx, 250)
	require.NoError(t, err)
	second, err := ix.RangeUpTo(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIndexRangePage(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(openStore(t, newManualClock()), "")
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, ix.Insert(ctx, k, int64(10*(i+1))))
	}

	page, err := ix.RangePage(ctx, 40, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "b", Deadline: 20}, {Key: "c", Deadline: 30}}, page)

	page, err = ix.RangePage(ctx, 40, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "d", Deadline: 40}}, page)

	page, err = ix.RangePage(ctx, 40, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = ix.RangeFrom(ctx, 20, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "b", Deadline: 20}, {Key: "c", Deadline: 30}}, page)

	entries, err := ix.Entries(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
