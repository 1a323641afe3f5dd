package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/rzbill/keywatch/internal/config"
	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/internal/kv/pebblekv"
	"github.com/rzbill/keywatch/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Store.DataDir = t.TempDir()
	cfg.Store.Fsync = "never"
	cfg.Store.ReapInterval = cfgpkg.Duration(10 * time.Millisecond)
	cfg.Compensator.Interval = cfgpkg.Duration(time.Hour)
	cfg.Log.Level = "error"
	return cfg
}

func quietLogger() log.Logger { return log.NewLogger(log.WithLevel(log.ErrorLevel)) }

// removals reads keywatch_removals_total for source from the runtime's
// registry; a source that never removed anything reads as 0.
func removals(t *testing.T, rt *Runtime, source string) float64 {
	t.Helper()
	fams, err := rt.Metrics().Gather()
	require.NoError(t, err)
	for _, mf := range fams {
		if mf.GetName() != "keywatch_removals_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "source" && lp.GetValue() == source {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, rt.CheckHealth(context.Background()))
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.Error(t, rt.CheckHealth(context.Background()))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	_, err := Open(Options{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
}

func TestStartTwice(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Start(context.Background()))
	assert.Error(t, rt.Start(context.Background()))
}

func TestStartAfterClose(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Start(context.Background()), kv.ErrClosed)
}

func TestLivePathRemovesExpiredKey(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))

	require.NoError(t, rt.Registrar().Watch(ctx, "job:1", []byte("x"), 30*time.Millisecond))
	_, found, err := rt.Index().Deadline(ctx, "job:1")
	require.NoError(t, err)
	require.True(t, found)

	assert.Eventually(t, func() bool {
		_, found, err := rt.Index().Deadline(ctx, "job:1")
		return err == nil && !found
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, removals(t, rt, "live"))
}

// deafClient never delivers expiration notifications.
type deafClient struct {
	*pebblekv.Store
}

type deafSub struct{ ch chan kv.Message }

func (s deafSub) Messages() <-chan kv.Message { return s.ch }
func (s deafSub) Close() error                { return nil }

func (deafClient) PSubscribe(context.Context, string) (kv.Subscription, error) {
	return deafSub{ch: make(chan kv.Message)}, nil
}

func TestCompensatorRecoversLostNotifications(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compensator.Interval = cfgpkg.Duration(20 * time.Millisecond)
	store, err := pebblekv.Open(pebblekv.Options{DataDir: cfg.Store.DataDir, ReapInterval: -1, Logger: quietLogger()})
	require.NoError(t, err)

	rt, err := Open(Options{Config: cfg, Logger: quietLogger(), Client: deafClient{store}})
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))

	require.NoError(t, rt.Registrar().Watch(ctx, "job:lost", []byte("x"), 30*time.Millisecond))
	require.NoError(t, rt.Registrar().Watch(ctx, "job:forever", []byte("x"), 0))

	assert.Eventually(t, func() bool {
		_, found, err := rt.Index().Deadline(ctx, "job:lost")
		return err == nil && !found
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, removals(t, rt, "compensator"))
	assert.Zero(t, removals(t, rt, "live"))
}

func TestApply(t *testing.T) {
	logger := log.NewLogger(log.WithLevel(log.ErrorLevel))
	rt, err := Open(Options{Config: testConfig(t), Logger: logger})
	require.NoError(t, err)
	defer rt.Close()

	next := rt.Config()
	next.Compensator.Interval = cfgpkg.Duration(3 * time.Second)
	next.Log.Level = "debug"
	rt.Apply(next)

	assert.Equal(t, 3*time.Second, rt.Compensator().Interval())
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	next.Log.Level = "nonsense"
	next.Compensator.Interval = 0
	rt.Apply(next)
	assert.Equal(t, 3*time.Second, rt.Compensator().Interval())
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
}
