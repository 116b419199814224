package matcher

import (
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// isSeparator reports whether c is matched by the "^" placeholder: anything
// but a letter, a digit or one of "_-.%". Bytes of multi-byte UTF-8 sequences
// are never separators.
func isSeparator(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_', c == '-', c == '.', c == '%':
		return false
	case c >= 0x80:
		return false
	}
	return true
}

// matchSegment matches a wildcard-free segment against s at pos and returns
// the end of the match. A "^" at the end of s matches the empty string.
func matchSegment(seg, s string, pos int) (int, bool) {
	for k := 0; k < len(seg); k++ {
		c := seg[k]
		if c == '^' {
			if pos == len(s) {
				continue
			}
			if !isSeparator(s[pos]) {
				return 0, false
			}
			pos++
			continue
		}
		if pos >= len(s) || s[pos] != c {
			return 0, false
		}
		pos++
	}
	return pos, true
}

// globAt reports whether the glob segs matches s starting exactly at start.
// With anchorEnd the match must also end at len(s); otherwise any prefix
// match is enough.
func globAt(segs []string, s string, start int, anchorEnd bool) bool {
	pos, ok := matchSegment(segs[0], s, start)
	if !ok {
		return false
	}
	if len(segs) == 1 {
		return !anchorEnd || pos == len(s)
	}

	last := len(segs) - 1
	for _, seg := range segs[1:last] {
		found := false
		for j := pos; j <= len(s); j++ {
			if end, ok := matchSegment(seg, s, j); ok {
				pos, found = end, true
				break
			}
		}
		if !found {
			return false
		}
	}

	tail := segs[last]
	if !anchorEnd {
		for j := pos; j <= len(s); j++ {
			if _, ok := matchSegment(tail, s, j); ok {
				return true
			}
		}
		return false
	}
	for j := len(s); j >= pos; j-- {
		if end, ok := matchSegment(tail, s, j); ok && end == len(s) {
			return true
		}
	}
	return false
}

// matchPattern evaluates a non-regex rule pattern against a request.
func matchPattern(r domain.Rule, req domain.Request) bool {
	s := req.LowerURL
	if r.Options.MatchCase {
		s = req.URL
	}
	if r.Pattern == "" {
		return true
	}
	segs := strings.Split(r.Pattern, "*")

	switch {
	case r.AnchorHost:
		return matchHostAnchored(segs, s, req.LowerURL, req.Host, r.AnchorEnd)
	case r.AnchorStart:
		return globAt(segs, s, 0, r.AnchorEnd)
	}

	// Jump between occurrences of the first literal byte run when there is one.
	lead := segs[0]
	if i := strings.IndexByte(lead, '^'); i >= 0 {
		lead = lead[:i]
	}
	if lead == "" {
		for i := 0; i <= len(s); i++ {
			if globAt(segs, s, i, r.AnchorEnd) {
				return true
			}
		}
		return false
	}
	for off := 0; off <= len(s); {
		i := strings.Index(s[off:], lead)
		if i < 0 {
			return false
		}
		if globAt(segs, s, off+i, r.AnchorEnd) {
			return true
		}
		off += i + 1
	}
	return false
}

// matchHostAnchored tries the pattern at the start of the request host and
// at every label boundary inside it.
func matchHostAnchored(segs []string, s, lower, host string, anchorEnd bool) bool {
	if host == "" {
		return false
	}
	if len(lower) != len(s) {
		lower = s
	}
	from := 0
	if i := strings.Index(lower, "://"); i >= 0 {
		from = i + 3
	} else if strings.HasPrefix(lower, "//") {
		from = 2
	}
	hostStart := strings.Index(lower[from:], host)
	if hostStart < 0 {
		return false
	}
	hostStart += from
	for i := 0; i < len(host); i++ {
		if i > 0 && host[i-1] != '.' {
			continue
		}
		if globAt(segs, s, hostStart+i, anchorEnd) {
			return true
		}
	}
	return false
}
