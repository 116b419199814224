package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
)

// cosmeticMarkers separate a cosmetic (element hiding, scriptlet, HTML
// filtering) rule's domain list from its body. Such rules never affect
// network requests.
var cosmeticMarkers = []string{
	"##", "#@#",
	"#?#", "#@?#",
	"#$#", "#@$#",
	"#%#", "#@%#",
	"$$", "$@$",
}

// stripLineBOM removes a UTF-8 byte order mark and surrounding whitespace.
func stripLineBOM(line string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, "\uFEFF"))
}

// isComment reports whether a trimmed line is a comment or list header:
// "! text", "[Adblock Plus 2.0]", or a hosts-style "# text".
func isComment(line string) bool {
	switch {
	case strings.HasPrefix(line, "!"):
		return true
	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		return true
	case line == "#":
		return true
	case strings.HasPrefix(line, "#"):
		// "##.banner" and friends are cosmetic, not comments.
		next := line[1]
		return next == ' ' || next == '\t' || next == '!' || next == '-' || next == '='
	}
	return false
}

// isCosmetic reports whether line is a cosmetic rule.
func isCosmetic(line string) bool {
	for _, m := range cosmeticMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// stripInlineComment drops a trailing " # comment" from hosts-style lines.
func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// isValidHostname checks whether name is usable as a host anchor:
//   - The total length must not exceed 253 characters.
//   - The name must contain at least two labels.
//   - Each label must be between 1 and 63 characters long.
//   - Labels hold only letters, digits, '-' and '_'.
func isValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !isAlphaNumeric(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// normalizeDomainName trims the entry, removes a leading "*." or "." and
// returns the canonical host form used by domain options and host anchors.
func normalizeDomainName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalHost(name)
}

// isAlphaNumeric reports whether the given rune is a letter or digit.
func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isWildcardOnly reports whether s consists solely of '*' characters.
func isWildcardOnly(s string) bool {
	return strings.Trim(s, "*") == ""
}
