package kv

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrClosed is returned by operations on a closed client or subscription.
var ErrClosed = errors.New("kv: client closed")

// DefaultExpiredPattern matches expiration events from every database.
const DefaultExpiredPattern = "__keyevent@*__:expired"

// ExpiredChannel returns the channel an expiration of a key in db is
// published on.
func ExpiredChannel(db int) string {
	return "__keyevent@" + strconv.Itoa(db) + "__:expired"
}

// Store is the plain key-value surface.
type Store interface {
	// Set writes value under key. A ttl of zero means no expiration; a
	// positive ttl replaces any previous expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Exists reports whether key is currently present. Expired keys are
	// absent even if the store has not reclaimed them yet.
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// ScoredMember is one member of a sorted set.
type ScoredMember struct {
	Member string
	Score  int64
}

// SortedSet is an ordered collection of unique members keyed by score.
// Every method is a single atomic operation.
type SortedSet interface {
	// ZAdd inserts member or replaces its score.
	ZAdd(ctx context.Context, set, member string, score int64) error
	// ZRem removes member and reports whether it was present.
	ZRem(ctx context.Context, set, member string) (bool, error)
	// ZRangeByScore returns members with min <= score <= max in ascending
	// score order, equal scores by member, skipping offset entries.
	// count <= 0 means no limit.
	ZRangeByScore(ctx context.Context, set string, min, max int64, offset, count int) ([]ScoredMember, error)
	// ZScore returns the score of member, if present.
	ZScore(ctx context.Context, set, member string) (int64, bool, error)
}

// Message is one published notification.
type Message struct {
	Pattern string
	Channel string
	Payload string
}

// Subscription is a live pattern subscription. Messages is closed when the
// subscription ends, either by Close or because the transport was lost.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Notifier delivers published notifications. Delivery is best-effort: a slow
// or disconnected subscriber may miss messages.
type Notifier interface {
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
}

// Client is everything keywatch needs from a store.
type Client interface {
	Store
	SortedSet
	Notifier
}
