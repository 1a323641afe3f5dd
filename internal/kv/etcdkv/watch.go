package etcdkv

import (
	"context"
	"strings"
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/pkg/log"
)

type subscription struct {
	c       *Client
	pattern string
	ch      chan kv.Message
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Messages() <-chan kv.Message { return s.ch }

func (s *subscription) Close() error {
	s.stop()
	s.c.mu.Lock()
	delete(s.c.subs, s)
	s.c.mu.Unlock()
	return nil
}

func (s *subscription) stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// PSubscribe watches the value keyspace and reports every lease expiry as a
// message on ExpiredChannel(0) carrying the key name. The subscription ends
// when the watch fails or is compacted; callers resubscribe.
func (c *Client) PSubscribe(ctx context.Context, pattern string) (kv.Subscription, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	s := &subscription{
		c:       c,
		pattern: pattern,
		ch:      make(chan kv.Message, c.buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	wc := c.cli.Watch(wctx, c.keys.valuePrefix(), clientv3.WithPrefix(), clientv3.WithPrevKV(), clientv3.WithFilterPut())

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run(wc)
	return s, nil
}

func (s *subscription) run(wc clientv3.WatchChan) {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()

	matches := kv.MatchPattern(s.pattern, s.c.channel)
	for resp := range wc {
		if err := resp.Err(); err != nil {
			s.c.logger.Warn("etcd watch ended", log.Err(err))
			return
		}
		if resp.Canceled {
			return
		}
		if !matches {
			continue
		}
		for _, ev := range resp.Events {
			msg, ok := eventToMessage(ev, s.c.keys.valuePrefix(), s.pattern, s.c.channel)
			if !ok {
				continue
			}
			select {
			case s.ch <- msg:
			default:
				s.c.dropped.Add(1)
				if s.c.onDrop != nil {
					s.c.onDrop(msg.Channel)
				}
			}
		}
	}
}

// eventToMessage converts a delete of a leased value into an expiration
// message. Deletes of keys without a lease were not expirations.
func eventToMessage(ev *clientv3.Event, valuePrefix, pattern, channel string) (kv.Message, bool) {
	if ev == nil || ev.Type != mvccpb.DELETE || ev.Kv == nil {
		return kv.Message{}, false
	}
	if ev.PrevKv == nil || ev.PrevKv.Lease == 0 {
		return kv.Message{}, false
	}
	key := string(ev.Kv.Key)
	if !strings.HasPrefix(key, valuePrefix) {
		return kv.Message{}, false
	}
	return kv.Message{Pattern: pattern, Channel: channel, Payload: strings.TrimPrefix(key, valuePrefix)}, true
}
