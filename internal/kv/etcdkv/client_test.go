package etcdkv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

func TestConnectRequiresEndpoints(t *testing.T) {
	if _, err := Connect(Options{}); err == nil {
		t.Fatalf("expected error without endpoints")
	}
}

func TestTLSConfigMissingFiles(t *testing.T) {
	if _, err := tlsConfig(Options{CACert: "/does/not/exist.pem"}); err == nil {
		t.Fatalf("expected error for missing CA")
	}
	conf, err := tlsConfig(Options{})
	if err != nil || conf != nil {
		t.Fatalf("plain connection should have no TLS config, got %v %v", conf, err)
	}
}

// testClient connects to the cluster named by KEYWATCH_ETCD_ENDPOINTS under a
// unique prefix.
func testClient(t *testing.T) *Client {
	t.Helper()
	endpoints := os.Getenv("KEYWATCH_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("KEYWATCH_ETCD_ENDPOINTS not set")
	}
	c, err := Connect(Options{
		Endpoints: strings.Split(endpoints, ","),
		Prefix:    fmt.Sprintf("/keywatch-test/%d/", time.Now().UnixNano()),
		Retries:   3,
		Logger:    log.NewLogger(log.WithLevel(log.ErrorLevel)),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegrationStore(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "plain", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := c.Exists(ctx, "plain"); err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if ok, _ := c.Exists(ctx, "missing"); ok {
		t.Fatalf("missing key reported present")
	}
}

func TestIntegrationSortedSet(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	for i, m := range []string{"c", "a", "b"} {
		if err := c.ZAdd(ctx, "s", m, int64(30-10*i)); err != nil {
			t.Fatalf("zadd: %v", err)
		}
	}
	if err := c.ZAdd(ctx, "s", "c", 5); err != nil {
		t.Fatalf("rescore: %v", err)
	}
	got, err := c.ZRangeByScore(ctx, "s", 0, 100, 0, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []kv.ScoredMember{{Member: "c", Score: 5}, {Member: "b", Score: 10}, {Member: "a", Score: 20}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("range = %v, want %v", got, want)
	}
	page, _ := c.ZRangeByScore(ctx, "s", 0, 100, 1, 1)
	if len(page) != 1 || page[0].Member != "b" {
		t.Fatalf("page = %v", page)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := c.ZRem(ctx, "s", "a"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("concurrent removals reported %d wins", wins.Load())
	}
}

func TestIntegrationExpiryNotification(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sub, err := c.PSubscribe(ctx, kv.DefaultExpiredPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := c.Set(ctx, "job:1", []byte("x"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("subscription ended")
		}
		if msg.Payload != "job:1" {
			t.Fatalf("payload = %q", msg.Payload)
		}
	case <-ctx.Done():
		t.Fatalf("no expiration observed")
	}
}
