package etcdkv

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/rzbill/keywatch/internal/kv"
)

// memberState is the member record read before a conditional write.
type memberState struct {
	found bool
	score int64
	rev   int64
}

func (c *Client) readMember(ctx context.Context, set, member string) (memberState, error) {
	var st memberState
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.cli.Get(ctx, c.keys.memberKey(set, member))
		if err != nil {
			return err
		}
		st = memberState{}
		if len(resp.Kvs) == 0 {
			return nil
		}
		score, err := parseScore(resp.Kvs[0].Value)
		if err != nil {
			return fmt.Errorf("%w: member %q: %v", errCorrupt, member, err)
		}
		st = memberState{found: true, score: score, rev: resp.Kvs[0].ModRevision}
		return nil
	})
	return st, err
}

// unchanged guards a write on the member record not having moved since st
// was read.
func (c *Client) unchanged(set, member string, st memberState) clientv3.Cmp {
	mk := c.keys.memberKey(set, member)
	if !st.found {
		return clientv3.Compare(clientv3.CreateRevision(mk), "=", 0)
	}
	return clientv3.Compare(clientv3.ModRevision(mk), "=", st.rev)
}

func (c *Client) commit(ctx context.Context, cmp clientv3.Cmp, ops ...clientv3.Op) (bool, error) {
	var ok bool
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.cli.Txn(ctx).If(cmp).Then(ops...).Commit()
		if err != nil {
			return err
		}
		ok = resp.Succeeded
		return nil
	})
	return ok, err
}

// ZAdd inserts member or replaces its score.
func (c *Client) ZAdd(ctx context.Context, set, member string, score int64) error {
	for {
		st, err := c.readMember(ctx, set, member)
		if err != nil {
			return err
		}
		if st.found && st.score == score {
			return nil
		}
		ops := []clientv3.Op{
			clientv3.OpPut(c.keys.memberKey(set, member), formatScore(score)),
			clientv3.OpPut(c.keys.scoreKey(set, score, member), ""),
		}
		if st.found {
			ops = append(ops, clientv3.OpDelete(c.keys.scoreKey(set, st.score, member)))
		}
		ok, err := c.commit(ctx, c.unchanged(set, member, st), ops...)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// ZRem removes member. Of several concurrent callers exactly one observes
// true.
func (c *Client) ZRem(ctx context.Context, set, member string) (bool, error) {
	for {
		st, err := c.readMember(ctx, set, member)
		if err != nil {
			return false, err
		}
		if !st.found {
			return false, nil
		}
		ok, err := c.commit(ctx, c.unchanged(set, member, st),
			clientv3.OpDelete(c.keys.memberKey(set, member)),
			clientv3.OpDelete(c.keys.scoreKey(set, st.score, member)),
		)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
}

// ZScore returns the score of member.
func (c *Client) ZScore(ctx context.Context, set, member string) (int64, bool, error) {
	st, err := c.readMember(ctx, set, member)
	if err != nil {
		return 0, false, err
	}
	return st.score, st.found, nil
}

// ZRangeByScore returns members with min <= score <= max in score order.
func (c *Client) ZRangeByScore(ctx context.Context, set string, min, max int64, offset, count int) ([]kv.ScoredMember, error) {
	if min > max {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	start, end := c.keys.scoreRange(set, min, max)
	opts := []clientv3.OpOption{clientv3.WithRange(end), clientv3.WithKeysOnly()}
	if count > 0 {
		opts = append(opts, clientv3.WithLimit(int64(offset+count)))
	}

	var out []kv.ScoredMember
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.cli.Get(ctx, start, opts...)
		if err != nil {
			return err
		}
		out = out[:0]
		for i, item := range resp.Kvs {
			if i < offset {
				continue
			}
			score, member, err := c.keys.parseScoreKey(set, string(item.Key))
			if err != nil {
				return err
			}
			out = append(out, kv.ScoredMember{Member: member, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
