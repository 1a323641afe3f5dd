package pebblekv

import (
	"encoding/binary"
	"errors"
	"math"
)

// Key prefixes for the embedded store.
const (
	prefixValue  = "kv/v/" // Values with their expiry
	prefixExpiry = "kv/x/" // Expiry index
	prefixZSet   = "z/"    // Sorted sets
)

var errCorrupt = errors.New("pebblekv: corrupt record")

// valueKey returns the key holding a value record.
// Format: kv/v/{key}
func valueKey(key string) []byte {
	return []byte(prefixValue + key)
}

// expiryKey returns the expiry index key.
// Format: kv/x/{expires_ms}/{key}
func expiryKey(expiresMs int64, key string) []byte {
	k := make([]byte, len(prefixExpiry)+8+len(key))
	copy(k, prefixExpiry)
	binary.BigEndian.PutUint64(k[len(prefixExpiry):], uint64(expiresMs))
	copy(k[len(prefixExpiry)+8:], key)
	return k
}

// parseExpiryKey splits an expiry index key into its deadline and key.
func parseExpiryKey(k []byte) (int64, string, error) {
	if len(k) < len(prefixExpiry)+8 {
		return 0, "", errCorrupt
	}
	ms := int64(binary.BigEndian.Uint64(k[len(prefixExpiry):]))
	return ms, string(k[len(prefixExpiry)+8:]), nil
}

// encodeRecord lays out a value record as {expires_ms}{value}. expiresMs is 0
// for values without a time-to-live.
func encodeRecord(expiresMs int64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expiresMs))
	copy(buf[8:], value)
	return buf
}

func decodeRecord(buf []byte) (int64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, errCorrupt
	}
	return int64(binary.BigEndian.Uint64(buf)), buf[8:], nil
}

// zsetPrefix returns the prefix of a sorted set. The set name is length
// prefixed so names containing '/' cannot collide.
// Format: z/{len(set)}{set}/
func zsetPrefix(set string) []byte {
	k := make([]byte, len(prefixZSet)+4+len(set)+1)
	copy(k, prefixZSet)
	binary.BigEndian.PutUint32(k[len(prefixZSet):], uint32(len(set)))
	copy(k[len(prefixZSet)+4:], set)
	k[len(k)-1] = '/'
	return k
}

// zMemberKey maps a member to its score.
// Format: z/{set}/m/{member}
func zMemberKey(set, member string) []byte {
	p := zsetPrefix(set)
	k := make([]byte, 0, len(p)+2+len(member))
	k = append(k, p...)
	k = append(k, 'm', '/')
	return append(k, member...)
}

// zScorePrefix returns the prefix of the score-ordered index of a set.
// Format: z/{set}/s/
func zScorePrefix(set string) []byte {
	return append(zsetPrefix(set), 's', '/')
}

// zScoreKey orders members by score, then by member bytes.
// Format: z/{set}/s/{score}/{member}
func zScoreKey(set string, score int64, member string) []byte {
	p := zScorePrefix(set)
	k := make([]byte, len(p)+8+len(member))
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], encodeScore(score))
	copy(k[len(p)+8:], member)
	return k
}

// parseZScoreKey extracts the score and member from a score index key with
// the given prefix.
func parseZScoreKey(prefix, k []byte) (int64, string, error) {
	if len(k) < len(prefix)+8 {
		return 0, "", errCorrupt
	}
	score := decodeScore(binary.BigEndian.Uint64(k[len(prefix):]))
	return score, string(k[len(prefix)+8:]), nil
}

// encodeScore flips the sign bit so negative scores sort before positive
// ones under byte-wise comparison.
func encodeScore(score int64) uint64 { return uint64(score) ^ (1 << 63) }

func decodeScore(u uint64) int64 { return int64(u ^ (1 << 63)) }

func encodeScoreValue(score int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(score))
	return b[:]
}

func decodeScoreValue(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errCorrupt
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// scoreBounds returns the [lower, upper) iterator bounds covering scores
// min..max inclusive.
func scoreBounds(set string, min, max int64) ([]byte, []byte) {
	p := zScorePrefix(set)
	lower := make([]byte, len(p)+8)
	copy(lower, p)
	binary.BigEndian.PutUint64(lower[len(p):], encodeScore(min))
	if max == math.MaxInt64 {
		return lower, prefixEnd(p)
	}
	upper := make([]byte, len(p)+8)
	copy(upper, p)
	binary.BigEndian.PutUint64(upper[len(p):], encodeScore(max+1))
	return lower, upper
}

// prefixEnd returns the exclusive upper bound of all keys with prefix p,
// which always ends in '/'.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	end[len(end)-1]++
	return end
}
