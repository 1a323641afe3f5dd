package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistrarFixture(t *testing.T) (*Registrar, *Index, *manualClock, *countingRecorder) {
	t.Helper()
	clk := newManualClock()
	store := openStore(t, clk)
	ix := NewIndex(store, "")
	rec := newCountingRecorder()
	r := NewRegistrar(store, ix, RegistrarConfig{Clock: clk, Recorder: rec}, quietLogger())
	return r, ix, clk, rec
}

func TestWatchIndexesDeadline(t *testing.T) {
	ctx := context.Background()
	r, ix, _, rec := newRegistrarFixture(t)

	require.NoError(t, r.Watch(ctx, "A", []byte("v"), 2*time.Second))

	ms, ok, err := ix.Deadline(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second).UnixMilli(), ms)

	c := rec.snapshot()
	assert.Equal(t, 1, c.watches)
	assert.Equal(t, 1, c.indexed)
}

func TestWatchWithoutTTLIsNeverIndexed(t *testing.T) {
	ctx := context.Background()
	r, ix, clk, rec := newRegistrarFixture(t)

	require.NoError(t, r.Watch(ctx, "B", []byte("v"), 0))

	for _, d := range []time.Duration{0, time.Second, time.Hour, 24 * time.Hour} {
		clk.at(d)
		entries, err := ix.Entries(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
	assert.Equal(t, 0, rec.snapshot().indexed)
}

func TestRewatchKeepsOnlyLatestDeadline(t *testing.T) {
	ctx := context.Background()
	r, ix, clk, _ := newRegistrarFixture(t)

	require.NoError(t, r.Watch(ctx, "C", []byte("v1"), 5*time.Second))
	clk.at(time.Second)
	require.NoError(t, r.Watch(ctx, "C", []byte("v2"), 50*time.Second))

	entries, err := ix.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "C", Deadline: epoch.Add(51 * time.Second).UnixMilli()}}, entries)

	// the earlier deadline is gone
	clk.at(6 * time.Second)
	keys, err := ix.RangeUpTo(ctx, clk.Now().UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestWatchValidation(t *testing.T) {
	ctx := context.Background()
	r, ix, _, _ := newRegistrarFixture(t)

	assert.ErrorIs(t, r.Watch(ctx, "", []byte("v"), time.Second), ErrEmptyKey)
	assert.ErrorIs(t, r.Watch(ctx, "k", []byte("v"), -time.Second), ErrNegativeTTL)

	entries, err := ix.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingStore struct {
	*fakeClient
	err error
}

func (s failingStore) Set(context.Context, string, []byte, time.Duration) error { return s.err }

func TestWatchStoreFailureSkipsIndex(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	fc := newFakeClient()
	ix := NewIndex(fc, "")
	r := NewRegistrar(failingStore{fakeClient: fc, err: boom}, ix, RegistrarConfig{}, quietLogger())

	err := r.Watch(ctx, "k", []byte("v"), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	entries, err := ix.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
