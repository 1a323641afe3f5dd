// Package client provides the keywatch command-line client.
//
// The commands talk to the keywatch HTTP API. The base URL is supplied by
// the embedding application through a BaseURLFunc; the standalone binary
// reads KEYWATCH_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	keywatch watch --key job:42 --value '{"id":42}' --ttl 1m
//	keywatch watch --key config --value v1          # no TTL, not indexed
//	keywatch pending --limit 20
//	keywatch compensate
//	keywatch events --limit 10
//
// Notes
//
//   - watch prints whether the key was indexed; a zero --ttl stores the key
//     without expiration.
//   - pending marks entries whose deadline has passed as overdue. Overdue
//     entries of keys that are gone are removed by the next compensation
//     pass.
//   - events follows the websocket removal feed and prints one JSON object
//     per removal.
package client
