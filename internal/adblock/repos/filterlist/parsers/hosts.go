package parsers

import (
	"net"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// localHostnames are hosts-file entries that describe the machine itself and
// must never turn into block rules.
var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

// isHostsLine reports whether line looks like an /etc/hosts entry: an IP
// address followed by at least one whitespace-separated name.
func isHostsLine(line string) bool {
	fields := strings.Fields(stripInlineComment(line))
	return len(fields) >= 2 && net.ParseIP(fields[0]) != nil
}

// hostsRules converts a hosts-file line into "||host^" block rules.
//
// Rules:
// - Ignore the IP field; extract one or more hostnames following it
// - Skip local names (localhost, broadcasthost, ...)
// - Skip invalid tokens (wildcards, leading dots, non-hostnames)
// - Return rejected tokens so callers can report them
func hostsRules(line string) (rules []domain.Rule, rejected []string) {
	fields := strings.Fields(stripInlineComment(line))
	if len(fields) < 2 {
		return nil, nil
	}
	for _, raw := range fields[1:] {
		if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
			rejected = append(rejected, raw)
			continue
		}
		name := utils.CanonicalHost(raw)
		if _, ok := localHostnames[name]; ok {
			continue
		}
		if !isValidHostname(name) {
			rejected = append(rejected, raw)
			continue
		}
		rules = append(rules, domain.Rule{
			Text:       "||" + name + "^",
			Pattern:    name + "^",
			AnchorHost: true,
		})
	}
	return rules, rejected
}
