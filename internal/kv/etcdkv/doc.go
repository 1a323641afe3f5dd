// Package etcdkv adapts an etcd v3 cluster to kv.Client.
//
// Values with a TTL are attached to a lease of the TTL rounded up to whole
// seconds (etcd's lease granularity). When etcd revokes an expired lease it
// deletes the attached keys; a prefix watch turns those deletions into
// "__keyevent@0__:expired" notifications. Like the keyspace notifications it
// stands in for, delivery is best-effort: a subscriber that falls behind
// loses messages, and a broken watch ends the subscription.
//
// Sorted sets are stored as two key families under the configured prefix,
// one ordered by score for range scans and one mapping members to scores.
// Mutations are compare-and-swap transactions on the member key, so each
// ZAdd and ZRem is atomic and concurrent ZRem calls report a single removal.
//
// Requests failing with Unavailable or a dropped raft proposal are retried.
package etcdkv
