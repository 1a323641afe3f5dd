package etcdkv

import (
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/rzbill/keywatch/internal/kv"
)

func TestEventToMessage(t *testing.T) {
	const prefix = "/kw/v/"
	channel := kv.ExpiredChannel(0)
	del := func(key string, lease int64) *clientv3.Event {
		return &clientv3.Event{
			Type:   mvccpb.DELETE,
			Kv:     &mvccpb.KeyValue{Key: []byte(key)},
			PrevKv: &mvccpb.KeyValue{Key: []byte(key), Lease: lease},
		}
	}

	msg, ok := eventToMessage(del(prefix+"job:1", 7), prefix, kv.DefaultExpiredPattern, channel)
	if !ok {
		t.Fatalf("expected message for leased delete")
	}
	if msg.Payload != "job:1" || msg.Channel != channel || msg.Pattern != kv.DefaultExpiredPattern {
		t.Fatalf("unexpected message %+v", msg)
	}

	if _, ok := eventToMessage(del(prefix+"job:1", 0), prefix, kv.DefaultExpiredPattern, channel); ok {
		t.Fatalf("delete without lease is not an expiration")
	}
	put := &clientv3.Event{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Key: []byte(prefix + "job:1")}}
	if _, ok := eventToMessage(put, prefix, kv.DefaultExpiredPattern, channel); ok {
		t.Fatalf("put is not an expiration")
	}
	noPrev := &clientv3.Event{Type: mvccpb.DELETE, Kv: &mvccpb.KeyValue{Key: []byte(prefix + "x")}}
	if _, ok := eventToMessage(noPrev, prefix, kv.DefaultExpiredPattern, channel); ok {
		t.Fatalf("delete without previous value is ignored")
	}
	if _, ok := eventToMessage(del("/other/x", 3), prefix, kv.DefaultExpiredPattern, channel); ok {
		t.Fatalf("foreign key is ignored")
	}
}
