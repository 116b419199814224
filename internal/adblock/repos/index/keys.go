package index

import (
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// gramSize is the length of the literal n-grams used as shortcut keys.
const gramSize = 5

// Bloom keys are the table hash prefixed by a table tag so host and
// shortcut keys cannot collide in the shared filter.
const (
	tagHost     byte = 'h'
	tagShortcut byte = 's'
)

// hashKey hashes a lowercase key string.
func hashKey(s string) uint64 {
	return xxhash.Sum64String(s)
}

// bloomKey renders a table key for the Bloom filter into buf.
func bloomKey(buf *[9]byte, tag byte, h uint64) []byte {
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], h)
	return buf[:]
}

// hostOf returns the literal host a "||" rule is pinned to. ok is false
// when the host part is not terminated by "^", "/" or ":" or holds a
// wildcard, since such rules can match more than one exact host.
func hostOf(r domain.Rule) (host string, ok bool) {
	if !r.AnchorHost || r.Regex {
		return "", false
	}
	p := r.Pattern
	end := strings.IndexAny(p, "^/:*")
	if end <= 0 || p[end] == '*' {
		return "", false
	}
	host = strings.ToLower(p[:end])
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return "", false
	}
	return host, true
}

// shortcut returns the longest run of the pattern free of "*", "^" and "|",
// lowercased. Ties go to the first run.
func shortcut(r domain.Rule) string {
	if r.Regex {
		return ""
	}
	var best string
	for _, part := range strings.FieldsFunc(r.Pattern, func(c rune) bool {
		return c == '*' || c == '^' || c == '|'
	}) {
		if len(part) > len(best) {
			best = part
		}
	}
	return strings.ToLower(best)
}
