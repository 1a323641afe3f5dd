// Package kv declares the key-value store capabilities keywatch depends on:
// values with a time-to-live, existence checks, an ordered set scored by
// integer deadlines, and a pattern subscription delivering key-expiration
// notifications.
//
// Two implementations live in subpackages: pebblekv, an embedded store on
// Pebble, and etcdkv, an adapter for an etcd v3 cluster.
//
// Notification channels follow the keyspace-event naming used by Redis:
//
//	__keyevent@<db>__:expired
//
// and subscriptions use glob patterns such as "__keyevent@*__:expired".
package kv
