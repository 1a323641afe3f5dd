// Package pebblestore opens the Pebble database behind the embedded
// key-value backend (internal/kv/pebblekv). Writes go through batches so a
// value and its expiry bookkeeping land together, and every commit follows
// the configured FsyncMode. An optional MetricsHook sees read sizes and
// commit latencies.
package pebblestore
