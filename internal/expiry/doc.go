// Package expiry reconciles a store's best-effort key-expiration
// notifications with a deadline-ordered index of watched keys, so that every
// watched key is eventually observed as expired even when its live
// notification is lost.
//
// Components:
//
//   - Index: the delayed index, a sorted set scored by deadline in epoch
//     milliseconds (default name "job:delayed").
//   - Registrar: writes a value with a TTL and indexes its deadline.
//   - Watcher: the live path. Subscribes to "__keyevent@*__:expired" and
//     removes each announced key from the index.
//   - Compensator: the recovery path. On a fixed interval it scans entries
//     whose deadline has passed, asks the store whether each key still
//     exists, and removes the ones that are gone.
//   - Cleanup: the removal both paths share. Removal is idempotent, so the two
//     paths may race on the same key without coordination; only the call that
//     actually removed the entry reports it.
//
// Deadlines are computed from the registrar's clock at watch time. If that
// clock trails the store's by s, a key whose notification was dropped is
// detected up to interval + s + one existence round trip after it expired. If
// it leads, entries are examined early and left alone while the store still
// holds the key.
package expiry
