// Package transports provides the transport used by the CLI to reach a
// keywatch server.
package transports

import (
	"context"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// WatchRequest stores Value under Key for TTL; a zero TTL never expires.
type WatchRequest struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Entry is one pending index entry.
type Entry struct {
	Key        string `json:"key"`
	DeadlineMs int64  `json:"deadlineMs"`
}

// PassResult is the outcome of one compensation pass.
type PassResult struct {
	Candidates   int           `json:"candidates"`
	Removed      int           `json:"removed"`
	StillPresent int           `json:"stillPresent"`
	Failed       int           `json:"failed"`
	Duration     time.Duration `json:"durationNs"`
}

// RemovalEvent is one index removal reported by the server.
type RemovalEvent struct {
	Key    string    `json:"key"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Transport abstracts the transport used by the CLI.
type Transport interface {
	Watch(ctx context.Context, req WatchRequest) (indexed bool, err error)
	Pending(ctx context.Context, limit int) (index string, entries []Entry, err error)
	Compensate(ctx context.Context) (PassResult, error)
	Events(ctx context.Context, limit int, onEvent func(RemovalEvent) error) error
	Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error)
}
