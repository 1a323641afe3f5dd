package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/keywatch/internal/config"
	"github.com/rzbill/keywatch/internal/runtime"
	httpserver "github.com/rzbill/keywatch/internal/server/http"
	logpkg "github.com/rzbill/keywatch/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
	// ConfigPath, when set, is watched for changes; the compensation interval
	// and log level are applied live.
	ConfigPath string
	// Overrides are the command-line settings. They were applied to Config
	// by LoadConfig and are applied again to every reloaded file.
	Overrides func(*cfgpkg.Config)
}

// LoadConfig reads path (defaults when empty), overlays KEYWATCH_*
// environment variables, then applies overrides, in that order.
func LoadConfig(path string, overrides func(*cfgpkg.Config)) (cfgpkg.Config, error) {
	return cfgpkg.Resolve(path, overrides)
}

// watchConfig follows opts.ConfigPath and passes each reload to apply.
func watchConfig(ctx context.Context, opts Options, apply func(cfgpkg.Config), logger logpkg.Logger) error {
	return cfgpkg.Watch(ctx, cfgpkg.WatchOptions{
		Path:      opts.ConfigPath,
		Overrides: opts.Overrides,
		OnChange:  apply,
		Logger:    logger,
	})
}

// Run starts the runtime and HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Log.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Pebble and net/http report through the standard library logger.
	logpkg.RedirectStdLog(procLogger)

	procLogger.Info("Starting keywatch",
		logpkg.Str("backend", cfg.Store.Backend),
		logpkg.Str("data_dir", cfg.Store.DataDir),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("index", cfg.Index.Key),
		logpkg.Str("pattern", cfg.Watcher.Pattern),
		logpkg.Dur("interval", cfg.Compensator.Interval.Std()),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(sctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	var hsrv *httpserver.Server
	if cfg.HTTP.Addr != "" {
		hsrv = httpserver.New(rt, procLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
				procLogger.Error("http server failed", logpkg.Err(err))
				stop()
			}
		}()
	}

	if opts.ConfigPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watchConfig(sctx, opts, rt.Apply, procLogger); err != nil {
				procLogger.Warn("config hot reload disabled", logpkg.Str("path", opts.ConfigPath), logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	procLogger.Info("Shutting down keywatch")
	// Stop serving before closing the runtime and its store.
	if hsrv != nil {
		hsrv.Close()
	}
	wg.Wait()
	return nil
}
