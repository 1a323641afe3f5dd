package etcdkv

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
)

var errCorrupt = errors.New("etcdkv: corrupt key")

// keyspace builds keys under a common prefix.
// Layout:
//
//	{prefix}v/{key}                       values
//	{prefix}z/{len}{set}/m/{member}       member -> score (decimal)
//	{prefix}z/{len}{set}/s/{score}{member} score-ordered index
type keyspace struct {
	prefix string
}

func (ks keyspace) valuePrefix() string { return ks.prefix + "v/" }

func (ks keyspace) valueKey(key string) string { return ks.valuePrefix() + key }

func (ks keyspace) zsetPrefix(set string) string {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(set)))
	return ks.prefix + "z/" + string(n[:]) + set + "/"
}

func (ks keyspace) memberKey(set, member string) string {
	return ks.zsetPrefix(set) + "m/" + member
}

func (ks keyspace) scorePrefix(set string) string { return ks.zsetPrefix(set) + "s/" }

func (ks keyspace) scoreKey(set string, score int64, member string) string {
	return ks.scorePrefix(set) + encodeScore(score) + member
}

// scoreRange returns the [start, end) key range covering scores min..max.
func (ks keyspace) scoreRange(set string, min, max int64) (string, string) {
	p := ks.scorePrefix(set)
	start := p + encodeScore(min)
	if max == math.MaxInt64 {
		return start, prefixEnd(p)
	}
	return start, p + encodeScore(max+1)
}

func (ks keyspace) parseScoreKey(set, k string) (int64, string, error) {
	p := ks.scorePrefix(set)
	if len(k) < len(p)+8 {
		return 0, "", errCorrupt
	}
	u := binary.BigEndian.Uint64([]byte(k[len(p) : len(p)+8]))
	return int64(u ^ (1 << 63)), k[len(p)+8:], nil
}

// encodeScore flips the sign bit so byte order matches numeric order.
func encodeScore(score int64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(score)^(1<<63))
	return string(b[:])
}

func formatScore(score int64) string { return strconv.FormatInt(score, 10) }

func parseScore(b []byte) (int64, error) { return strconv.ParseInt(string(b), 10, 64) }

// prefixEnd returns the end of the range of keys starting with p, which
// always ends in '/'.
func prefixEnd(p string) string {
	b := []byte(p)
	b[len(b)-1]++
	return string(b)
}
