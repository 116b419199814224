package parsers

import (
	"fmt"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// parseOptions parses the text after a rule's "$" delimiter.
//
// Supported options:
//   - resource types, optionally negated ("script", "~image", "css", "xhr")
//   - "third-party"/"3p" and "first-party"/"1p", optionally negated
//   - "domain=a.com|~b.com" (alias "from=")
//   - "important", "match-case", "badfilter"
//   - "tag=name", "redirect=name", "redirect-rule=name"
//
// Any other option makes the whole rule unusable, since silently dropping a
// constraint would widen what the rule blocks.
func parseOptions(s string) (domain.RuleOptions, error) {
	var opts domain.RuleOptions
	if strings.TrimSpace(s) == "" {
		return opts, fmt.Errorf("empty option list")
	}
	for _, raw := range strings.Split(s, ",") {
		opt := strings.TrimSpace(raw)
		if opt == "" {
			return opts, fmt.Errorf("empty option")
		}

		name, value, hasValue := strings.Cut(opt, "=")
		name = strings.ToLower(name)
		negated := strings.HasPrefix(name, "~")
		if negated {
			name = name[1:]
		}

		if hasValue {
			if negated {
				return opts, fmt.Errorf("option %q cannot be negated", name)
			}
			if err := parseValueOption(&opts, name, value); err != nil {
				return opts, err
			}
			continue
		}

		switch name {
		case "third-party", "3p":
			opts.Party = partyFor(!negated)
		case "first-party", "1p":
			opts.Party = partyFor(negated)
		case "important", "match-case", "badfilter":
			if negated {
				return opts, fmt.Errorf("option %q cannot be negated", name)
			}
			switch name {
			case "important":
				opts.Important = true
			case "match-case":
				opts.MatchCase = true
			case "badfilter":
				opts.BadFilter = true
			}
		case "all":
			if negated {
				return opts, fmt.Errorf("option %q cannot be negated", name)
			}
			opts.PermittedTypes |= domain.AllResourceTypes
		default:
			t, ok := domain.ParseResourceType(name)
			if !ok {
				return opts, fmt.Errorf("unknown option %q", name)
			}
			if negated {
				opts.RestrictedTypes |= t
			} else {
				opts.PermittedTypes |= t
			}
		}
	}
	if opts.PermittedTypes == domain.AllResourceTypes {
		opts.PermittedTypes = 0
	}
	return opts, nil
}

// parseValueOption handles "name=value" options.
func parseValueOption(opts *domain.RuleOptions, name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("option %q has an empty value", name)
	}
	switch name {
	case "domain", "from":
		for _, entry := range strings.Split(value, "|") {
			entry = strings.TrimSpace(entry)
			restricted := strings.HasPrefix(entry, "~")
			if restricted {
				entry = entry[1:]
			}
			host := normalizeDomainName(entry)
			if host == "" {
				return fmt.Errorf("empty entry in %s=%s", name, value)
			}
			if restricted {
				opts.RestrictedDomains = append(opts.RestrictedDomains, host)
			} else {
				opts.PermittedDomains = append(opts.PermittedDomains, host)
			}
		}
	case "tag":
		opts.Tag = value
	case "redirect", "redirect-rule":
		// uBlock allows a ":priority" suffix; priority is not modelled.
		if i := strings.IndexByte(value, ':'); i > 0 {
			value = value[:i]
		}
		opts.Redirect = value
		opts.RedirectRule = name == "redirect-rule"
	default:
		return fmt.Errorf("unknown option %q", name)
	}
	return nil
}

// partyFor returns the constraint for "third-party" when third is true and
// for "first-party" otherwise.
func partyFor(third bool) domain.PartyConstraint {
	if third {
		return domain.PartyThird
	}
	return domain.PartyFirst
}
