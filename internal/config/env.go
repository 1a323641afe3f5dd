package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays KEYWATCH_* environment variables onto cfg. Malformed
// values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("KEYWATCH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("KEYWATCH_DATA_DIR"); v != "" {
		cfg.Store.DataDir = ExpandHome(v)
	}
	if v := os.Getenv("KEYWATCH_FSYNC"); v != "" {
		cfg.Store.Fsync = v
	}
	envDuration("KEYWATCH_REAP_INTERVAL", &cfg.Store.ReapInterval)
	envInt("KEYWATCH_NOTIFY_BUFFER", &cfg.Store.NotifyBuffer)

	if v := os.Getenv("KEYWATCH_ETCD_ENDPOINTS"); v != "" {
		cfg.Store.Etcd.Endpoints = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Store.Etcd.Endpoints = append(cfg.Store.Etcd.Endpoints, p)
			}
		}
	}
	if v := os.Getenv("KEYWATCH_ETCD_PREFIX"); v != "" {
		cfg.Store.Etcd.Prefix = v
	}
	if v := os.Getenv("KEYWATCH_ETCD_USERNAME"); v != "" {
		cfg.Store.Etcd.Username = v
	}
	if v := os.Getenv("KEYWATCH_ETCD_PASSWORD"); v != "" {
		cfg.Store.Etcd.Password = v
	}
	envDuration("KEYWATCH_ETCD_REQUEST_TIMEOUT", &cfg.Store.Etcd.RequestTimeout)

	if v := os.Getenv("KEYWATCH_INDEX_KEY"); v != "" {
		cfg.Index.Key = v
	}
	envDuration("KEYWATCH_COMPENSATOR_INTERVAL", &cfg.Compensator.Interval)
	envInt("KEYWATCH_COMPENSATOR_BATCH_SIZE", &cfg.Compensator.BatchSize)
	envInt("KEYWATCH_COMPENSATOR_CONCURRENCY", &cfg.Compensator.Concurrency)
	if v := os.Getenv("KEYWATCH_COMPENSATOR_CHECKS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Compensator.ChecksPerSecond = f
		}
	}
	if v := os.Getenv("KEYWATCH_WATCHER_PATTERN"); v != "" {
		cfg.Watcher.Pattern = v
	}
	if v, ok := os.LookupEnv("KEYWATCH_WATCHER_KEY_FILTER"); ok {
		cfg.Watcher.KeyFilter = v
	}
	if v := os.Getenv("KEYWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KEYWATCH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v, ok := os.LookupEnv("KEYWATCH_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
