package expiry

import (
	"context"
	"time"

	"github.com/rzbill/keywatch/pkg/log"
)

// Source identifies which path removed an index entry.
type Source string

const (
	SourceLive        Source = "live"
	SourceCompensator Source = "compensator"
)

// RemovalEvent reports one logical removal from the index. Exactly one event
// is emitted per removal no matter how many paths raced on the key.
type RemovalEvent struct {
	Key    string    `json:"key"`
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
}

// EventSink receives removal events. Implementations must not block.
type EventSink interface {
	PublishRemoval(RemovalEvent)
}

// ExpirationHandler is notified of every expired key the live path sees.
type ExpirationHandler interface {
	OnExpirationEvent(ctx context.Context, key string)
}

// Cleanup is the removal path shared by the Watcher and the Compensator.
type Cleanup struct {
	index    *Index
	clock    Clock
	sink     EventSink
	recorder Recorder
	logger   log.Logger
}

// CleanupConfig configures a Cleanup. All fields are optional.
type CleanupConfig struct {
	Clock    Clock
	Sink     EventSink
	Recorder Recorder
}

// NewCleanup returns the shared removal path over index.
func NewCleanup(index *Index, cfg CleanupConfig, logger log.Logger) *Cleanup {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	return &Cleanup{
		index:    index,
		clock:    cfg.Clock,
		sink:     cfg.Sink,
		recorder: cfg.Recorder,
		logger:   logger.WithComponent("cleanup"),
	}
}

// Remove deletes key from the index. It reports whether this call performed
// the removal; a key that is already gone yields false and no event.
func (c *Cleanup) Remove(ctx context.Context, key string, source Source) (bool, error) {
	removed, err := c.index.RemoveIfPresent(ctx, key)
	if err != nil {
		c.recorder.CleanupError(source)
		return false, err
	}
	if !removed {
		return false, nil
	}
	c.recorder.Removal(source)
	if c.sink != nil {
		c.sink.PublishRemoval(RemovalEvent{Key: key, Source: source, At: c.clock.Now()})
	}
	c.logger.Debug("index entry removed",
		log.Field{Key: "key", Value: key},
		log.Field{Key: "source", Value: string(source)},
	)
	return true, nil
}

// OnExpirationEvent removes key on behalf of the live path. Failures are
// logged and dropped; the Compensator retries them.
func (c *Cleanup) OnExpirationEvent(ctx context.Context, key string) {
	if _, err := c.Remove(ctx, key, SourceLive); err != nil {
		c.logger.Warn("live cleanup failed; leaving it to the compensator",
			log.Field{Key: "key", Value: key},
			log.Err(err),
		)
	}
}
