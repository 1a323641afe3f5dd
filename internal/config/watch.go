package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rzbill/keywatch/pkg/log"
)

const defaultReloadDebounce = 100 * time.Millisecond

// Resolve builds the effective configuration: the file at path (defaults when
// path is empty), then KEYWATCH_* environment variables, then overrides.
// The result is not validated.
func Resolve(path string, overrides func(*Config)) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	FromEnv(&cfg)
	if overrides != nil {
		overrides(&cfg)
	}
	return cfg, nil
}

// Reload is Resolve followed by Validate.
func Reload(path string, overrides func(*Config)) (Config, error) {
	cfg, err := Resolve(path, overrides)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WatchOptions configures Watch.
type WatchOptions struct {
	Path string
	// Overrides is re-applied on every reload, after the file and the
	// environment, so command-line settings keep precedence.
	Overrides func(*Config)
	// OnChange receives each valid reloaded config.
	OnChange func(Config)
	// Debounce coalesces bursts of file events into one reload (default 100ms).
	Debounce time.Duration
	Logger   log.Logger
}

// Watch reloads opts.Path whenever it is written or replaced and hands the
// result to opts.OnChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors and config
// management tools that save by rename or delete-and-recreate keep being
// followed. A removed file or a reload that fails to parse or validate is
// logged and the current config stays in effect.
func Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Path == "" {
		return errors.New("config: watch needs a path")
	}
	if opts.OnChange == nil {
		return errors.New("config: watch needs OnChange")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	logger = logger.WithComponent("config")
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}

	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger.Info("watching for changes", log.Str("path", path))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				timer.Reset(debounce)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				logger.Warn("config file moved or removed; keeping current config", log.Str("path", path))
			}

		case <-timer.C:
			cfg, err := Reload(path, opts.Overrides)
			if err != nil {
				logger.Error("reload failed; keeping current config", log.Str("path", path), log.Err(err))
				continue
			}
			logger.Info("reloaded", log.Str("path", path))
			opts.OnChange(cfg)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", log.Err(err))
		}
	}
}
