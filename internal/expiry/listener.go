package expiry

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

// WatcherConfig configures the live path.
type WatcherConfig struct {
	Pattern    string        // Subscription pattern (default: kv.DefaultExpiredPattern)
	KeyFilter  string        // CEL expression over key, channel, now_ms (default: all keys)
	Backoff    time.Duration // Initial resubscribe delay (default: 100ms)
	MaxBackoff time.Duration // Resubscribe delay cap (default: 5s)
	Clock      Clock
	Recorder   Recorder
}

// Watcher is the live path: it turns expiration notifications into index
// removals. Handling never blocks the store's delivery beyond one index
// mutation, and failures are never retried here.
type Watcher struct {
	notifier kv.Notifier
	handler  ExpirationHandler
	pattern  string
	filter   keyFilter
	backoff  time.Duration
	maxBack  time.Duration
	clock    Clock
	recorder Recorder
	logger   log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	sub     kv.Subscription
	started bool
}

// NewWatcher returns a watcher delivering expired keys to handler. An invalid
// key filter is reported here.
func NewWatcher(notifier kv.Notifier, handler ExpirationHandler, cfg WatcherConfig, logger log.Logger) (*Watcher, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = kv.DefaultExpiredPattern
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	filter, err := newKeyFilter(cfg.KeyFilter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		notifier: notifier,
		handler:  handler,
		pattern:  cfg.Pattern,
		filter:   filter,
		backoff:  cfg.Backoff,
		maxBack:  cfg.MaxBackoff,
		clock:    cfg.Clock,
		recorder: cfg.Recorder,
		logger:   logger.WithComponent("watcher"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes and begins handling notifications. A subscription failure
// is returned; it is a startup error, not something to recover from.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sub, err := w.notifier.PSubscribe(w.ctx, w.pattern)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", w.pattern, err)
	}
	w.sub = sub
	w.started = true

	w.wg.Add(1)
	go w.run(sub)

	w.logger.Info("watcher started", log.Field{Key: "pattern", Value: w.pattern})
	return nil
}

// Stop ends the subscription and waits for the handler loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) run(sub kv.Subscription) {
	defer w.wg.Done()

	for {
		for msg := range sub.Messages() {
			w.handle(msg)
		}
		if w.ctx.Err() != nil {
			w.logger.Info("watcher stopped")
			return
		}
		w.logger.Warn("subscription lost; resubscribing", log.Field{Key: "pattern", Value: w.pattern})
		sub = w.resubscribe()
		if sub == nil {
			w.logger.Info("watcher stopped")
			return
		}
	}
}

// resubscribe retries the subscription with exponential backoff until it
// succeeds or the watcher stops. It returns nil once stopped.
func (w *Watcher) resubscribe() kv.Subscription {
	delay := w.backoff
	for {
		select {
		case <-w.ctx.Done():
			return nil
		case <-time.After(delay):
		}
		sub, err := w.notifier.PSubscribe(w.ctx, w.pattern)
		if err == nil {
			w.mu.Lock()
			w.sub = sub
			w.mu.Unlock()
			// Stop may have run between PSubscribe and the swap.
			if w.ctx.Err() != nil {
				_ = sub.Close()
				return nil
			}
			w.logger.Info("resubscribed", log.Field{Key: "pattern", Value: w.pattern})
			return sub
		}
		w.logger.Warn("resubscribe failed",
			log.Field{Key: "pattern", Value: w.pattern},
			log.Field{Key: "retry_in", Value: delay.String()},
			log.Err(err),
		)
		delay *= 2
		if delay > w.maxBack {
			delay = w.maxBack
		}
	}
}

func (w *Watcher) handle(msg kv.Message) {
	w.recorder.LiveEvent()
	key := msg.Payload
	if key == "" || !utf8.ValidString(key) {
		w.recorder.LiveMalformed()
		w.logger.Warn("discarding malformed expiration payload",
			log.Field{Key: "channel", Value: msg.Channel},
			log.Field{Key: "payload", Value: fmt.Sprintf("%q", key)},
		)
		return
	}
	if !w.filter.Match(key, msg.Channel, w.clock.Now().UnixMilli()) {
		w.recorder.LiveFiltered()
		return
	}
	w.handler.OnExpirationEvent(w.ctx, key)
}
