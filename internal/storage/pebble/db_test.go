package pebblestore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

type recordingHook struct {
	readBytes int
	commits   int
	ops       int
}

func (h *recordingHook) ObserveRead(_ time.Duration, n int) { h.readBytes += n }
func (h *recordingHook) ObserveCommit(_ time.Duration, ops, _ int) {
	h.commits++
	h.ops += ops
}

func openTest(t *testing.T, mode FsyncMode) (*DB, *recordingHook) {
	t.Helper()
	hook := &recordingHook{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: mode, FsyncInterval: time.Millisecond, Metrics: hook})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, hook
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error without a data dir")
	}
}

func TestCloseNil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	for _, mode := range []FsyncMode{FsyncModeUnspecified, FsyncModeAlways, FsyncModeInterval, FsyncModeNever} {
		db, hook := openTest(t, mode)

		b := db.NewBatch()
		if err := b.Set([]byte("v/a"), []byte("1"), nil); err != nil {
			t.Fatal(err)
		}
		if err := b.Set([]byte("v/b"), []byte("22"), nil); err != nil {
			t.Fatal(err)
		}
		if err := db.CommitBatch(context.Background(), b); err != nil {
			t.Fatalf("mode %d: commit: %v", mode, err)
		}
		_ = b.Close()

		got, err := db.Get([]byte("v/b"))
		if err != nil || string(got) != "22" {
			t.Fatalf("mode %d: get = %q, %v", mode, got, err)
		}
		if hook.commits != 1 || hook.ops != 2 || hook.readBytes != 2 {
			t.Fatalf("mode %d: hook = %+v", mode, *hook)
		}
	}
}

func TestGetMissing(t *testing.T) {
	db, hook := openTest(t, FsyncModeNever)
	if _, err := db.Get([]byte("nope")); !IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	if hook.readBytes != 0 {
		t.Fatalf("missing key should not be observed")
	}
}

func TestCommitBatchCanceled(t *testing.T) {
	db, hook := openTest(t, FsyncModeInterval)

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.CommitBatch(ctx, b); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if hook.commits != 0 {
		t.Fatal("canceled commit should not be observed")
	}
	if _, err := db.Get([]byte("a")); !IsNotFound(err) {
		t.Fatalf("canceled batch applied: %v", err)
	}
	if err := db.CommitBatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil batch")
	}
}

func TestIterBounds(t *testing.T) {
	db, _ := openTest(t, FsyncModeNever)
	b := db.NewBatch()
	for _, k := range []string{"a/1", "b/1", "b/2", "c/1"} {
		if err := b.Set([]byte(k), nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	_ = b.Close()

	it, err := db.NewIter(&pebble.IterOptions{LowerBound: []byte("b/"), UpperBound: []byte("b0")})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var keys [][]byte
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if len(keys) != 2 || !bytes.Equal(keys[0], []byte("b/1")) || !bytes.Equal(keys[1], []byte("b/2")) {
		t.Fatalf("keys = %q", keys)
	}
}
