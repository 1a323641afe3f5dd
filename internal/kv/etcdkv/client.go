package etcdkv

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

// Options configures the connection.
type Options struct {
	Endpoints []string
	// Prefix namespaces every key written by keywatch (default "/keywatch/").
	Prefix string

	Username string
	Password string
	// CACert enables TLS; ClientCert and ClientKey add client authentication.
	CACert     string
	ClientCert string
	ClientKey  string

	DialTimeout    time.Duration // default: 5s
	RequestTimeout time.Duration // default: 5s
	Retries        uint64
	RetryInterval  time.Duration // default: 500ms

	// NotifyBuffer is the per-subscriber message buffer (default 1024).
	NotifyBuffer int
	// OnDrop is called when a notification is dropped for a slow subscriber.
	OnDrop func(channel string)

	Logger log.Logger
}

// Client is a kv.Client backed by etcd.
type Client struct {
	cli            *clientv3.Client
	keys           keyspace
	channel        string
	retries        uint64
	retryInterval  time.Duration
	requestTimeout time.Duration
	buffer         int
	onDrop         func(string)
	dropped        atomic.Uint64
	logger         log.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed atomic.Bool
}

var _ kv.Client = (*Client)(nil)

// Connect dials the cluster.
func Connect(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcdkv: at least one endpoint is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "/keywatch/"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.NotifyBuffer <= 0 {
		opts.NotifyBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	logger := opts.Logger.WithComponent("etcdkv")

	tlsConf, err := tlsConfig(opts)
	if err != nil {
		return nil, err
	}
	zl, err := zapLogger(logger.GetLevel())
	if err != nil {
		return nil, fmt.Errorf("etcd client logger: %w", err)
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		Username:    opts.Username,
		Password:    opts.Password,
		TLS:         tlsConf,
		DialTimeout: opts.DialTimeout,
		Logger:      zl,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}

	return &Client{
		cli:            cli,
		keys:           keyspace{prefix: opts.Prefix},
		channel:        kv.ExpiredChannel(0),
		retries:        opts.Retries,
		retryInterval:  opts.RetryInterval,
		requestTimeout: opts.RequestTimeout,
		buffer:         opts.NotifyBuffer,
		onDrop:         opts.OnDrop,
		logger:         logger,
		subs:           make(map[*subscription]struct{}),
	}, nil
}

func tlsConfig(opts Options) (*tls.Config, error) {
	if opts.CACert == "" && opts.ClientCert == "" {
		return nil, nil
	}
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client credentials: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	if opts.CACert != "" {
		pem, err := os.ReadFile(opts.CACert)
		if err != nil {
			return nil, fmt.Errorf("read root certificate: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, errors.New("etcdkv: failed to parse root certificate authority")
		}
		conf.RootCAs = roots
	}
	return conf, nil
}

// zapLogger builds the etcd client's logger at the level matching ours.
func zapLogger(level log.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapLevel(level))
	zc.Sampling = nil
	return zc.Build()
}

func zapLevel(level log.Level) zapcore.Level {
	switch level {
	case log.DebugLevel:
		return zapcore.DebugLevel
	case log.InfoLevel:
		// etcd's info output is chatty; keep it to warnings unless debugging.
		return zapcore.WarnLevel
	case log.WarnLevel:
		return zapcore.WarnLevel
	case log.ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// Close ends all subscriptions and closes the connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[*subscription]struct{})
	c.mu.Unlock()
	for s := range subs {
		s.stop()
	}
	return c.cli.Close()
}

// Dropped returns the number of notifications dropped for slow subscribers.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

func (c *Client) check(ctx context.Context) error {
	if c.closed.Load() {
		return kv.ErrClosed
	}
	return ctx.Err()
}

// ttlSeconds rounds ttl up to etcd's one-second lease granularity.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

// Set writes value under key. A positive ttl attaches the key to a fresh
// lease; a zero ttl detaches it.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("etcdkv: negative ttl %s", ttl)
	}
	var putOpts []clientv3.OpOption
	if ttl > 0 {
		var lease clientv3.LeaseID
		err := c.do(ctx, func(ctx context.Context) error {
			resp, err := c.cli.Grant(ctx, ttlSeconds(ttl))
			if err != nil {
				return err
			}
			lease = resp.ID
			return nil
		})
		if err != nil {
			return fmt.Errorf("grant lease: %w", err)
		}
		putOpts = append(putOpts, clientv3.WithLease(lease))
	}
	return c.do(ctx, func(ctx context.Context) error {
		_, err := c.cli.Put(ctx, c.keys.valueKey(key), string(value), putOpts...)
		return err
	})
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.cli.Get(ctx, c.keys.valueKey(key), clientv3.WithCountOnly())
		if err != nil {
			return err
		}
		found = resp.Count > 0
		return nil
	})
	return found, err
}
