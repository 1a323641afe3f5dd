package etcdkv

import (
	"context"
	"errors"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	raftv3 "go.etcd.io/raft/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// shouldRetry reports whether err is transient: the cluster is unavailable
// or a raft proposal was dropped during leader changes.
func shouldRetry(err error, retries uint64) bool {
	if retries == 0 || err == nil {
		return false
	}
	var etcdErr rpctypes.EtcdError
	if errors.As(err, &etcdErr) {
		return etcdErr.Code() == codes.Unavailable
	}
	stat, ok := status.FromError(err)
	if !ok {
		return false
	}
	return stat.Code() == codes.Unavailable || stat.Message() == raftv3.ErrProposalDropped.Error()
}

// do runs op with a per-request timeout, retrying transient failures.
func (c *Client) do(ctx context.Context, op func(ctx context.Context) error) error {
	retries := c.retries
	for {
		if err := c.check(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err := op(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !shouldRetry(err, retries) {
			return err
		}
		retries--
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryInterval):
		}
	}
}
