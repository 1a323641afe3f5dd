package kv

// MatchPattern reports whether channel matches the glob pattern. Supported
// syntax: '*' (any run), '?' (any byte), "[abc]", "[^abc]", "[a-z]" and '\'
// escapes. Unlike path.Match, '/' is an ordinary byte.
func MatchPattern(pattern, channel string) bool {
	p, s := 0, 0
	starP, starS := -1, 0
	for s < len(channel) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starS = p, s
				p++
				continue
			case '?':
				p++
				s++
				continue
			case '[':
				if ok, next, valid := matchClass(pattern, p, channel[s]); valid && ok {
					p = next
					s++
					continue
				} else if !valid && pattern[p] == channel[s] {
					p++
					s++
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == channel[s] {
					p += 2
					s++
					continue
				}
			default:
				if pattern[p] == channel[s] {
					p++
					s++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		// backtrack: let the last '*' absorb one more byte
		starS++
		p, s = starP+1, starS
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the bracket expression starting at
// pattern[start] == '['. valid is false when the bracket is unterminated, in
// which case '[' is treated literally.
func matchClass(pattern string, start int, c byte) (ok bool, next int, valid bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}
	matched := false
	first := true
	for i < len(pattern) && (first || pattern[i] != ']') {
		first = false
		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			if hi == '\\' && i+3 < len(pattern) {
				i++
				hi = pattern[i+2]
			}
			i += 2
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if c >= lo && c <= hi {
			matched = true
		}
		i++
	}
	if i >= len(pattern) {
		return false, start, false
	}
	return matched != negate, i + 1, true
}
