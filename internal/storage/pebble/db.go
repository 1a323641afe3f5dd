package pebblestore

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode selects when committed batches reach stable storage.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble group WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing entirely to Pebble.
	FsyncModeNever
)

const defaultFsyncInterval = 5 * time.Millisecond

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = pebble.ErrNotFound

// Options configures Open.
type Options struct {
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval applies to FsyncModeInterval and to the unspecified mode.
	// Zero means 5ms.
	FsyncInterval time.Duration
	// PebbleOptions is passed through to pebble.Open after the fsync policy is
	// applied to it.
	PebbleOptions *pebble.Options
	Metrics       MetricsHook
	// Logger receives Pebble's own log lines.
	Logger pebble.Logger
}

// MetricsHook observes reads and commits.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveCommit(elapsed time.Duration, ops int, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRead(time.Duration, int)        {}
func (noopMetrics) ObserveCommit(time.Duration, int, int) {}

// DB is a Pebble database whose writes all go through batches committed with
// one fsync policy.
type DB struct {
	inner   *pebble.DB
	wopts   *pebble.WriteOptions
	metrics MetricsHook
}

// Open creates or opens the database in opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	interval := opts.FsyncInterval
	if interval <= 0 {
		interval = defaultFsyncInterval
	}
	wopts := pebble.NoSync
	switch opts.Fsync {
	case FsyncModeAlways:
		wopts = pebble.Sync
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}
	if opts.Logger != nil {
		po.Logger = opts.Logger
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	db := &DB{inner: inner, wopts: wopts, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = noopMetrics{}
	}
	return db, nil
}

// Close closes the database. It is safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch starts an atomic group of writes. Commit it with CommitBatch.
func (db *DB) NewBatch() *pebble.Batch { return db.inner.NewBatch() }

// CommitBatch applies b unless ctx is already done. The caller still owns b
// and must Close it.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	ops, size := int(b.Count()), b.Len()
	if err := b.Commit(db.wopts); err != nil {
		return err
	}
	db.metrics.ObserveCommit(time.Since(start), ops, size)
	return nil
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

// NewIter opens an iterator over the committed state.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool { return errors.Is(err, pebble.ErrNotFound) }
