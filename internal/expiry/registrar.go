package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

var (
	ErrEmptyKey    = errors.New("expiry: empty key")
	ErrNegativeTTL = errors.New("expiry: negative ttl")
)

// Registrar is the write side: it stores values and indexes their deadlines.
// It is the only way entries enter the index.
type Registrar struct {
	store    kv.Store
	index    *Index
	clock    Clock
	recorder Recorder
	logger   log.Logger
}

// RegistrarConfig configures a Registrar. All fields are optional.
type RegistrarConfig struct {
	Clock    Clock
	Recorder Recorder
}

// NewRegistrar returns a registrar writing to store and index.
func NewRegistrar(store kv.Store, index *Index, cfg RegistrarConfig, logger log.Logger) *Registrar {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	return &Registrar{
		store:    store,
		index:    index,
		clock:    cfg.Clock,
		recorder: cfg.Recorder,
		logger:   logger.WithComponent("registrar"),
	}
}

// Watch writes value under key with ttl. A ttl of zero stores the key without
// expiration and leaves the index untouched. Otherwise the key is indexed at
// now+ttl, replacing any earlier deadline.
//
// The value is written before the index entry. If indexing fails the error is
// returned and Watch may be retried.
func (r *Registrar) Watch(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl < 0 {
		return ErrNegativeTTL
	}

	now := r.clock.Now()
	if err := r.store.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("store set %q: %w", key, err)
	}
	if ttl == 0 {
		r.recorder.WatchRegistered(false)
		return nil
	}

	deadline := now.Add(ttl).UnixMilli()
	if err := r.index.Insert(ctx, key, deadline); err != nil {
		return err
	}
	r.recorder.WatchRegistered(true)
	r.logger.Debug("watch registered",
		log.Field{Key: "key", Value: key},
		log.Field{Key: "deadline_ms", Value: deadline},
	)
	return nil
}
