package pebblekv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/keywatch/internal/kv"
	pebblestore "github.com/rzbill/keywatch/internal/storage/pebble"
	"github.com/rzbill/keywatch/pkg/log"
)

// Options configures the embedded store.
type Options struct {
	// DataDir is the Pebble database directory.
	DataDir string
	// Fsync and FsyncInterval are passed to the storage engine.
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	// ReapInterval is how often expired keys are reclaimed and announced.
	// Defaults to 100ms. Negative disables the background reaper; Reap can
	// still be called directly.
	ReapInterval time.Duration
	// ReapBatch bounds the keys reclaimed per engine batch (default 512).
	ReapBatch int
	// NotifyBuffer is the per-subscriber message buffer (default 1024).
	NotifyBuffer int
	// DB is the database number used in notification channel names.
	DB int
	// Now is the store clock. Defaults to time.Now.
	Now func() time.Time
	// Metrics observes storage operations. Optional.
	Metrics pebblestore.MetricsHook
	// OnDrop is called when a notification is dropped for a slow subscriber.
	OnDrop func(channel string)
	Logger log.Logger
}

// Store is a kv.Client backed by Pebble. Expired keys are reclaimed lazily on
// access and in the background, and each reclamation publishes an expiration
// notification.
type Store struct {
	db      *pebblestore.DB
	now     func() time.Time
	hub     *hub
	channel string
	batch   int
	logger  log.Logger

	// mu serialises read-modify-write sequences so each logical operation
	// commits as one batch.
	mu     sync.Mutex
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ kv.Client = (*Store)(nil)

// Open opens (or creates) the store and starts its reaper.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	logger := opts.Logger.WithComponent("pebblekv")

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       opts.Metrics,
		Logger:        pebbleLogger{l: logger},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReapInterval == 0 {
		opts.ReapInterval = 100 * time.Millisecond
	}
	if opts.ReapBatch <= 0 {
		opts.ReapBatch = 512
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:      db,
		now:     opts.Now,
		hub:     newHub(opts.NotifyBuffer, opts.OnDrop),
		channel: kv.ExpiredChannel(opts.DB),
		batch:   opts.ReapBatch,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.ReapInterval > 0 {
		s.wg.Add(1)
		go s.reapLoop(opts.ReapInterval)
	}
	return s, nil
}

// Close stops the reaper, ends all subscriptions and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.hub.close()
	return s.db.Close()
}

// Dropped returns the number of notifications dropped for slow subscribers.
func (s *Store) Dropped() uint64 { return s.hub.dropped.Load() }

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return kv.ErrClosed
	}
	return ctx.Err()
}

// Set writes value under key, replacing its previous expiration.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if ttl < 0 {
		return fmt.Errorf("pebblekv: negative ttl %s", ttl)
	}
	var expiresMs int64
	if ttl > 0 {
		expiresMs = s.nowMs() + ttl.Milliseconds()
		if ttl%time.Millisecond != 0 {
			expiresMs++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if old, err := s.db.Get(valueKey(key)); err == nil {
		if oldExp, _, derr := decodeRecord(old); derr == nil && oldExp != 0 {
			if err := b.Delete(expiryKey(oldExp, key), nil); err != nil {
				return err
			}
		}
	} else if !pebblestore.IsNotFound(err) {
		return fmt.Errorf("read %q: %w", key, err)
	}
	if err := b.Set(valueKey(key), encodeRecord(expiresMs, value), nil); err != nil {
		return err
	}
	if expiresMs != 0 {
		if err := b.Set(expiryKey(expiresMs, key), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// Get returns the value of key, or false if it is absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	raw, err := s.db.Get(valueKey(key))
	if pebblestore.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	expiresMs, value, err := decodeRecord(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %q: %w", key, err)
	}
	if expiresMs != 0 && expiresMs <= s.nowMs() {
		return nil, false, s.expire(ctx, key, expiresMs)
	}
	return value, true, nil
}

// Exists reports whether key is present. A key found past its deadline is
// reclaimed on the spot and announced.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// expire removes key if its record still carries expiresMs, then publishes
// the expiration.
func (s *Store) expire(ctx context.Context, key string, expiresMs int64) error {
	s.mu.Lock()
	removed, err := s.expireLocked(ctx, key, expiresMs)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if removed {
		s.hub.publish(s.channel, key)
	}
	return nil
}

func (s *Store) expireLocked(ctx context.Context, key string, expiresMs int64) (bool, error) {
	b := s.db.NewBatch()
	defer b.Close()
	removed, err := s.stageExpire(b, key, expiresMs)
	if err != nil {
		return false, err
	}
	if b.Empty() {
		return false, nil
	}
	return removed, s.db.CommitBatch(ctx, b)
}

// stageExpire adds the deletions for an expired key to b. The index entry is
// always removed; the value only if it was not rewritten since.
func (s *Store) stageExpire(b *pebble.Batch, key string, expiresMs int64) (bool, error) {
	if err := b.Delete(expiryKey(expiresMs, key), nil); err != nil {
		return false, err
	}
	raw, err := s.db.Get(valueKey(key))
	if pebblestore.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	current, _, err := decodeRecord(raw)
	if err != nil || current != expiresMs {
		return false, nil
	}
	if err := b.Delete(valueKey(key), nil); err != nil {
		return false, err
	}
	return true, nil
}

// Reap reclaims every key whose deadline has passed and publishes one
// notification per reclaimed key. It returns the number of keys reclaimed.
func (s *Store) Reap(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := s.check(ctx); err != nil {
			return total, err
		}
		n, more, err := s.reapBatch(ctx)
		total += n
		if err != nil || !more {
			return total, err
		}
	}
}

func (s *Store) reapBatch(ctx context.Context) (int, bool, error) {
	lower := []byte(prefixExpiry)
	upper := expiryKey(s.nowMs()+1, "")

	s.mu.Lock()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		s.mu.Unlock()
		return 0, false, err
	}
	b := s.db.NewBatch()
	var expired []string
	scanned := 0
	for iter.First(); iter.Valid() && scanned < s.batch; iter.Next() {
		scanned++
		expiresMs, key, perr := parseExpiryKey(iter.Key())
		if perr != nil {
			_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
			continue
		}
		removed, serr := s.stageExpire(b, key, expiresMs)
		if serr != nil {
			err = serr
			break
		}
		if removed {
			expired = append(expired, key)
		}
	}
	more := iter.Valid() && scanned >= s.batch
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	if err == nil && !b.Empty() {
		err = s.db.CommitBatch(ctx, b)
	}
	b.Close()
	s.mu.Unlock()

	if err != nil {
		return 0, false, fmt.Errorf("reap: %w", err)
	}
	for _, key := range expired {
		s.hub.publish(s.channel, key)
	}
	return len(expired), more, nil
}

func (s *Store) reapLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reap(s.ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, kv.ErrClosed) {
				s.logger.Warn("reap failed", log.Err(err))
			}
		}
	}
}

// PSubscribe subscribes to expiration notifications on channels matching
// pattern. The subscription ends when ctx is done, on Close, or when the store
// closes.
func (s *Store) PSubscribe(ctx context.Context, pattern string) (kv.Subscription, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sub, err := s.hub.subscribe(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// pebbleLogger routes engine log lines into the keywatch logger.
type pebbleLogger struct {
	l log.Logger
}

func (p pebbleLogger) Infof(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...interface{}) {
	p.l.Fatal(fmt.Sprintf(format, args...))
}
