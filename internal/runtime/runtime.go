package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/rzbill/keywatch/internal/config"
	"github.com/rzbill/keywatch/internal/expiry"
	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/internal/kv/etcdkv"
	"github.com/rzbill/keywatch/internal/kv/pebblekv"
	"github.com/rzbill/keywatch/internal/metrics"
	"github.com/rzbill/keywatch/internal/server/ws"
	"github.com/rzbill/keywatch/pkg/log"
)

// healthKey is checked by CheckHealth; it is never written.
const healthKey = "__keywatch_health__"

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Clock drives deadlines and passes. Defaults to the system clock.
	Clock expiry.Clock
	// Client replaces the configured backend. The runtime closes it.
	Client kv.Client
}

// Runtime is a single keywatch instance.
type Runtime struct {
	config cfgpkg.Config
	logger log.Logger

	client      kv.Client
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	hub         *ws.Hub
	index       *expiry.Index
	cleanup     *expiry.Cleanup
	registrar   *expiry.Registrar
	watcher     *expiry.Watcher
	compensator *expiry.Compensator

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	closed  bool
}

// Open validates the configuration, opens the store and builds every
// component. Nothing runs until Start.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	if opts.Clock == nil {
		opts.Clock = expiry.SystemClock
	}
	cfg := opts.Config

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := ws.New(opts.Logger)
	metrics.EventClients(reg, hub.Count)

	client := opts.Client
	if client == nil {
		var err error
		client, err = openClient(cfg.Store, m, opts.Clock, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	index := expiry.NewIndex(client, cfg.Index.Key)
	cleanup := expiry.NewCleanup(index, expiry.CleanupConfig{
		Clock:    opts.Clock,
		Sink:     hub,
		Recorder: m,
	}, opts.Logger)
	registrar := expiry.NewRegistrar(client, index, expiry.RegistrarConfig{
		Clock:    opts.Clock,
		Recorder: m,
	}, opts.Logger)
	watcher, err := expiry.NewWatcher(client, cleanup, expiry.WatcherConfig{
		Pattern:   cfg.Watcher.Pattern,
		KeyFilter: cfg.Watcher.KeyFilter,
		Clock:     opts.Clock,
		Recorder:  m,
	}, opts.Logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("build watcher: %w", err)
	}
	compensator := expiry.NewCompensator(index, client, cleanup, expiry.CompensatorConfig{
		Interval:        cfg.Compensator.Interval.Std(),
		BatchSize:       cfg.Compensator.BatchSize,
		Concurrency:     cfg.Compensator.Concurrency,
		ChecksPerSecond: cfg.Compensator.ChecksPerSecond,
		Clock:           opts.Clock,
		Recorder:        m,
	}, opts.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		config:      cfg,
		logger:      opts.Logger.WithComponent("runtime"),
		client:      client,
		registry:    reg,
		metrics:     m,
		hub:         hub,
		index:       index,
		cleanup:     cleanup,
		registrar:   registrar,
		watcher:     watcher,
		compensator: compensator,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func openClient(sc cfgpkg.StoreConfig, m *metrics.Metrics, clock expiry.Clock, logger log.Logger) (kv.Client, error) {
	switch sc.Backend {
	case cfgpkg.BackendEtcd:
		c, err := etcdkv.Connect(etcdkv.Options{
			Endpoints:      sc.Etcd.Endpoints,
			Prefix:         sc.Etcd.Prefix,
			Username:       sc.Etcd.Username,
			Password:       sc.Etcd.Password,
			CACert:         sc.Etcd.CACert,
			ClientCert:     sc.Etcd.ClientCert,
			ClientKey:      sc.Etcd.ClientKey,
			DialTimeout:    sc.Etcd.DialTimeout.Std(),
			RequestTimeout: sc.Etcd.RequestTimeout.Std(),
			Retries:        sc.Etcd.Retries,
			RetryInterval:  sc.Etcd.RetryInterval.Std(),
			NotifyBuffer:   sc.NotifyBuffer,
			OnDrop:         m.NotificationDropped,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		mode, err := sc.FsyncMode()
		if err != nil {
			return nil, err
		}
		s, err := pebblekv.Open(pebblekv.Options{
			DataDir:       sc.DataDir,
			Fsync:         mode,
			FsyncInterval: sc.FsyncInterval.Std(),
			ReapInterval:  sc.ReapInterval.Std(),
			NotifyBuffer:  sc.NotifyBuffer,
			Now:           clock.Now,
			Metrics:       m,
			OnDrop:        m.NotificationDropped,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Start subscribes the live watcher and starts the compensator. A
// subscription failure is returned and nothing is left running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return kv.ErrClosed
	}
	if r.started {
		return errors.New("runtime: already started")
	}
	if err := r.watcher.Start(ctx); err != nil {
		return err
	}
	go r.hub.Run(r.ctx)
	r.compensator.Start()
	r.started = true
	r.logger.Info("keywatch started",
		log.Str("backend", r.config.Store.Backend),
		log.Str("index", r.index.Name()),
		log.Str("pattern", r.config.Watcher.Pattern),
		log.Dur("interval", r.compensator.Interval()),
	)
	return nil
}

// Close stops the background paths, disconnects event clients and closes the
// store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	if started {
		r.watcher.Stop()
		r.compensator.Stop()
	}
	r.cancel()
	return r.client.Close()
}

// CheckHealth verifies the store answers a read.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if _, err := r.client.Exists(ctx, healthKey); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// Apply takes the settings that can change at runtime from cfg: the
// compensation interval and the log level. Everything else needs a restart.
func (r *Runtime) Apply(cfg cfgpkg.Config) {
	if d := cfg.Compensator.Interval.Std(); d > 0 && d != r.compensator.Interval() {
		r.compensator.SetInterval(d)
		r.logger.Info("compensation interval changed", log.Dur("interval", d))
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil && lvl != r.logger.GetLevel() {
		r.logger.SetLevel(lvl)
		r.logger.Info("log level changed", log.Str("level", lvl.String()))
	}
}

// Registrar returns the write path.
func (r *Runtime) Registrar() *expiry.Registrar { return r.registrar }

// Index returns the delayed index.
func (r *Runtime) Index() *expiry.Index { return r.index }

// Compensator returns the recovery path.
func (r *Runtime) Compensator() *expiry.Compensator { return r.compensator }

// Hub returns the removal event hub.
func (r *Runtime) Hub() *ws.Hub { return r.hub }

// Metrics returns the registry holding every keywatch metric.
func (r *Runtime) Metrics() *prometheus.Registry { return r.registry }

// Client exposes the underlying store (internal use only).
func (r *Runtime) Client() kv.Client { return r.client }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
