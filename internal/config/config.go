package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/keywatch/internal/expiry"
	"github.com/rzbill/keywatch/internal/kv"
	pebblestore "github.com/rzbill/keywatch/internal/storage/pebble"
	"github.com/rzbill/keywatch/pkg/log"
)

// Store backends.
const (
	BackendPebble = "pebble"
	BackendEtcd   = "etcd"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Store       StoreConfig       `json:"store" yaml:"store"`
	Index       IndexConfig       `json:"index" yaml:"index"`
	Compensator CompensatorConfig `json:"compensator" yaml:"compensator"`
	Watcher     WatcherConfig     `json:"watcher" yaml:"watcher"`
	Log         log.Config        `json:"log" yaml:"log"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
}

// StoreConfig selects and tunes the key-value store.
type StoreConfig struct {
	Backend       string     `json:"backend" yaml:"backend"`
	DataDir       string     `json:"dataDir" yaml:"dataDir"`
	Fsync         string     `json:"fsync" yaml:"fsync"` // always | interval | never
	FsyncInterval Duration   `json:"fsyncInterval" yaml:"fsyncInterval"`
	ReapInterval  Duration   `json:"reapInterval" yaml:"reapInterval"`
	NotifyBuffer  int        `json:"notifyBuffer" yaml:"notifyBuffer"`
	Etcd          EtcdConfig `json:"etcd" yaml:"etcd"`
}

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints      []string `json:"endpoints" yaml:"endpoints"`
	Prefix         string   `json:"prefix" yaml:"prefix"`
	Username       string   `json:"username" yaml:"username"`
	Password       string   `json:"password" yaml:"password"`
	CACert         string   `json:"caCert" yaml:"caCert"`
	ClientCert     string   `json:"clientCert" yaml:"clientCert"`
	ClientKey      string   `json:"clientKey" yaml:"clientKey"`
	DialTimeout    Duration `json:"dialTimeout" yaml:"dialTimeout"`
	RequestTimeout Duration `json:"requestTimeout" yaml:"requestTimeout"`
	Retries        uint64   `json:"retries" yaml:"retries"`
	RetryInterval  Duration `json:"retryInterval" yaml:"retryInterval"`
}

// IndexConfig names the delayed index.
type IndexConfig struct {
	Key string `json:"key" yaml:"key"`
}

// CompensatorConfig tunes the recovery pass.
type CompensatorConfig struct {
	Interval        Duration `json:"interval" yaml:"interval"`
	BatchSize       int      `json:"batchSize" yaml:"batchSize"`
	Concurrency     int      `json:"concurrency" yaml:"concurrency"`
	ChecksPerSecond float64  `json:"checksPerSecond" yaml:"checksPerSecond"`
}

// WatcherConfig tunes the live path.
type WatcherConfig struct {
	Pattern   string `json:"pattern" yaml:"pattern"`
	KeyFilter string `json:"keyFilter" yaml:"keyFilter"`
}

// HTTPConfig configures the HTTP API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:       BackendPebble,
			DataDir:       DefaultDataDir(),
			Fsync:         "interval",
			FsyncInterval: Duration(5 * time.Millisecond),
			ReapInterval:  Duration(100 * time.Millisecond),
			NotifyBuffer:  1024,
			Etcd: EtcdConfig{
				Prefix:         "/keywatch/",
				DialTimeout:    Duration(5 * time.Second),
				RequestTimeout: Duration(5 * time.Second),
				Retries:        3,
				RetryInterval:  Duration(500 * time.Millisecond),
			},
		},
		Index: IndexConfig{Key: expiry.DefaultIndexKey},
		Compensator: CompensatorConfig{
			Interval:    Duration(expiry.DefaultCompensationInterval),
			Concurrency: 1,
		},
		Watcher: WatcherConfig{Pattern: kv.DefaultExpiredPattern},
		Log:     log.Config{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8080"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendPebble:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.dataDir is required for the pebble backend"))
		}
		if _, err := c.Store.FsyncMode(); err != nil {
			errs = append(errs, err)
		}
	case BackendEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("store.etcd.endpoints is required for the etcd backend"))
		}
		if (c.Store.Etcd.ClientCert == "") != (c.Store.Etcd.ClientKey == "") {
			errs = append(errs, errors.New("store.etcd.clientCert and clientKey must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want %q or %q", c.Store.Backend, BackendPebble, BackendEtcd))
	}
	if c.Store.NotifyBuffer < 0 {
		errs = append(errs, errors.New("store.notifyBuffer must not be negative"))
	}
	if c.Index.Key == "" {
		errs = append(errs, errors.New("index.key is required"))
	}
	if c.Compensator.Interval.Std() <= 0 {
		errs = append(errs, errors.New("compensator.interval must be positive"))
	}
	if c.Compensator.BatchSize < 0 {
		errs = append(errs, errors.New("compensator.batchSize must not be negative"))
	}
	if c.Compensator.Concurrency < 1 {
		errs = append(errs, errors.New("compensator.concurrency must be at least 1"))
	}
	if c.Compensator.ChecksPerSecond < 0 {
		errs = append(errs, errors.New("compensator.checksPerSecond must not be negative"))
	}
	if c.Watcher.Pattern == "" {
		errs = append(errs, errors.New("watcher.pattern is required"))
	}
	if err := expiry.ValidateKeyFilter(c.Watcher.KeyFilter); err != nil {
		errs = append(errs, fmt.Errorf("watcher.keyFilter: %w", err))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// FsyncMode maps the fsync setting onto the storage engine's modes.
func (s StoreConfig) FsyncMode() (pebblestore.FsyncMode, error) {
	switch strings.ToLower(s.Fsync) {
	case "", "interval":
		return pebblestore.FsyncModeInterval, nil
	case "always":
		return pebblestore.FsyncModeAlways, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, fmt.Errorf("store.fsync %q: want always, interval or never", s.Fsync)
	}
}
