package expiry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

// DefaultCompensationInterval is the pause between compensation passes.
const DefaultCompensationInterval = 10 * time.Second

// CompensatorConfig configures the recovery path.
type CompensatorConfig struct {
	Interval        time.Duration // Pause between passes (default: 10s)
	BatchSize       int           // Candidates read per range query (default: 0, unbounded)
	Concurrency     int           // Parallel existence checks (default: 1)
	ChecksPerSecond float64       // Existence check rate limit (default: 0, unlimited)
	Clock           Clock
	Recorder        Recorder
}

// PassResult summarises one compensation pass.
type PassResult struct {
	Candidates   int           `json:"candidates"`
	Removed      int           `json:"removed"`
	StillPresent int           `json:"stillPresent"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"durationNs"`
}

// Compensator is the recovery path. Each pass reads the entries whose
// deadline has passed, checks whether the store still holds each key, and
// removes the entries of keys that are gone. Keys still present are left for
// a later pass, and so are keys whose check failed.
type Compensator struct {
	index       *Index
	store       kv.Store
	cleanup     *Cleanup
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	clock       Clock
	recorder    Recorder
	logger      log.Logger

	interval atomic.Int64
	reset    chan struct{}
	passMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewCompensator returns a compensator checking index entries against store
// and removing confirmed-gone ones through cleanup.
func NewCompensator(index *Index, store kv.Store, cleanup *Cleanup, cfg CompensatorConfig, logger log.Logger) *Compensator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCompensationInterval
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
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

	var limiter *rate.Limiter
	if cfg.ChecksPerSecond > 0 {
		burst := int(cfg.ChecksPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ChecksPerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Compensator{
		index:       index,
		store:       store,
		cleanup:     cleanup,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
		clock:       cfg.Clock,
		recorder:    cfg.Recorder,
		logger:      logger.WithComponent("compensator"),
		reset:       make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.interval.Store(int64(cfg.Interval))
	return c
}

// Interval returns the current pause between passes.
func (c *Compensator) Interval() time.Duration { return time.Duration(c.interval.Load()) }

// SetInterval changes the pause between passes. A running loop picks it up
// immediately.
func (c *Compensator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.interval.Store(int64(d))
	select {
	case c.reset <- struct{}{}:
	default:
	}
}

// Start runs a pass immediately and then one pass per interval, measured
// from the end of the previous pass, until Stop.
func (c *Compensator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (c *Compensator) Stop() {
	c.once.Do(c.cancel)
	c.wg.Wait()
}

func (c *Compensator) run() {
	defer c.wg.Done()

	c.logger.Info("compensator started",
		log.Field{Key: "index", Value: c.index.Name()},
		log.Field{Key: "interval", Value: c.Interval().String()},
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("compensator stopped")
			return
		case <-c.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.Interval())
		case <-timer.C:
			if _, err := c.RunOnce(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("compensation pass failed", log.Err(err))
			}
			timer.Reset(c.Interval())
		}
	}
}

// RunOnce performs one pass synchronously. Passes never overlap. Individual
// check or removal failures are counted in the result, not returned; an error
// is returned only when the index cannot be read.
func (c *Compensator) RunOnce(ctx context.Context) (PassResult, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	start := time.Now()
	now := c.clock.Now().UnixMilli()

	var res PassResult
	var err error
	// Pages are anchored on the last examined (deadline, key). ties counts
	// examined entries sharing that deadline, so the next read over-fetches
	// by that much and drops what was already seen. Entries removed by the
	// live path between pages cannot shift later candidates out of view.
	var after *Entry
	ties := 0
	for {
		from, want := int64(math.MinInt64), c.batchSize
		if after != nil {
			from = after.Deadline
			want += ties
		}
		var page []Entry
		page, err = c.index.RangeFrom(ctx, from, now, want)
		if err != nil {
			err = fmt.Errorf("range up to %d: %w", now, err)
			break
		}
		full := c.batchSize > 0 && len(page) == want
		page = skipThrough(page, after)
		if full && len(page) > c.batchSize {
			page = page[:c.batchSize]
		}
		pr := c.checkAll(ctx, page)
		res.Candidates += pr.Candidates
		res.Removed += pr.Removed
		res.StillPresent += pr.StillPresent
		res.Failed += pr.Failed

		if !full || len(page) == 0 {
			break
		}
		last := page[len(page)-1]
		if after != nil && last.Deadline == after.Deadline {
			ties += len(page)
		} else {
			ties = 0
			for _, e := range page {
				if e.Deadline == last.Deadline {
					ties++
				}
			}
		}
		after = &last
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}
	res.Duration = time.Since(start)
	c.recorder.PassCompleted(res)

	if res.Candidates > 0 || err != nil {
		c.logger.Debug("compensation pass",
			log.Field{Key: "candidates", Value: res.Candidates},
			log.Field{Key: "removed", Value: res.Removed},
			log.Field{Key: "still_present", Value: res.StillPresent},
			log.Field{Key: "failed", Value: res.Failed},
			log.Field{Key: "duration", Value: res.Duration.String()},
		)
	}
	return res, err
}

// skipThrough drops the leading entries ordered at or before after.
func skipThrough(page []Entry, after *Entry) []Entry {
	if after == nil {
		return page
	}
	i := 0
	for i < len(page) {
		e := page[i]
		if e.Deadline > after.Deadline || (e.Deadline == after.Deadline && e.Key > after.Key) {
			break
		}
		i++
	}
	return page[i:]
}

type outcome int

const (
	outcomeRemoved outcome = iota
	outcomeAlreadyGone
	outcomePresent
	outcomeFailed
)

// checkAll reconciles one page of candidates, sequentially or on a bounded
// set of workers.
func (c *Compensator) checkAll(ctx context.Context, page []Entry) PassResult {
	res := PassResult{Candidates: len(page)}
	if len(page) == 0 {
		return res
	}

	tally := func(o outcome) {
		switch o {
		case outcomeRemoved:
			res.Removed++
		case outcomePresent:
			res.StillPresent++
		case outcomeFailed:
			res.Failed++
		}
	}

	if c.concurrency == 1 || len(page) == 1 {
		for _, e := range page {
			tally(c.check(ctx, e.Key))
		}
		return res
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	keys := make(chan string)
	workers := c.concurrency
	if workers > len(page) {
		workers = len(page)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keys {
				o := c.check(ctx, key)
				mu.Lock()
				tally(o)
				mu.Unlock()
			}
		}()
	}
	for _, e := range page {
		keys <- e.Key
	}
	close(keys)
	wg.Wait()
	return res
}

func (c *Compensator) check(ctx context.Context, key string) outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return outcomeFailed
		}
	}
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		c.recorder.CleanupError(SourceCompensator)
		c.logger.Warn("existence check failed; retrying next pass",
			log.Field{Key: "key", Value: key},
			log.Err(err),
		)
		return outcomeFailed
	}
	if exists {
		return outcomePresent
	}
	removed, err := c.cleanup.Remove(ctx, key, SourceCompensator)
	if err != nil {
		c.logger.Warn("compensator cleanup failed; retrying next pass",
			log.Field{Key: "key", Value: key},
			log.Err(err),
		)
		return outcomeFailed
	}
	if !removed {
		return outcomeAlreadyGone
	}
	return outcomeRemoved
}
