package domain

import (
	"fmt"
	"strings"
)

// PartyConstraint restricts a rule to first- or third-party requests.
type PartyConstraint uint8

const (
	// PartyAny applies regardless of the request's relation to its source.
	PartyAny PartyConstraint = iota
	// PartyThird applies only to third-party requests ($third-party, $3p).
	PartyThird
	// PartyFirst applies only to first-party requests ($~third-party, $1p).
	PartyFirst
)

// String returns a stable string representation of the constraint.
func (p PartyConstraint) String() string {
	switch p {
	case PartyAny:
		return "any"
	case PartyThird:
		return "third-party"
	case PartyFirst:
		return "first-party"
	default:
		return fmt.Sprintf("PartyConstraint(%d)", p)
	}
}

// RuleOptions holds the parsed "$" suffix of a network rule.
//
// PermittedTypes is zero when the rule lists no positive type; in that case
// every type except RestrictedTypes is allowed.
type RuleOptions struct {
	PermittedTypes    ResourceType
	RestrictedTypes   ResourceType
	PermittedDomains  []string // lowercase, no "~"
	RestrictedDomains []string // lowercase, "~" stripped
	Party             PartyConstraint
	Important         bool
	MatchCase         bool
	BadFilter         bool
	Tag               string
	Redirect          string
	RedirectRule      bool // $redirect-rule: redirect only, never block by itself
}

// Rule is a single parsed network filter. It is immutable once parsed.
//
// Pattern holds the text between the anchors with the "@@" marker and the
// option suffix removed. For regex rules Pattern is the expression without
// the enclosing slashes.
type Rule struct {
	Text        string // raw filter line, trimmed
	Pattern     string
	Exception   bool // "@@" prefix
	AnchorStart bool // "|" at start
	AnchorHost  bool // "||" at start
	AnchorEnd   bool // "|" at end
	Regex       bool
	Options     RuleOptions
}

// Validate checks the rule for contradictions that would make it unusable.
func (r Rule) Validate() error {
	if r.Pattern == "" && !r.hasConstraints() {
		return fmt.Errorf("rule has empty pattern and no constraints")
	}
	if r.AnchorHost && r.AnchorStart {
		return fmt.Errorf("rule cannot be both start and host anchored")
	}
	if r.AnchorHost && r.Pattern == "" {
		return fmt.Errorf("host anchor requires a pattern")
	}
	if r.Options.PermittedTypes&r.Options.RestrictedTypes != 0 {
		return fmt.Errorf("resource type both permitted and restricted: %s",
			r.Options.PermittedTypes&r.Options.RestrictedTypes)
	}
	if r.Exception && r.Options.Redirect != "" {
		return fmt.Errorf("exception rule cannot redirect")
	}
	return nil
}

func (r Rule) hasConstraints() bool {
	o := r.Options
	return o.PermittedTypes != 0 || o.RestrictedTypes != 0 ||
		len(o.PermittedDomains) > 0 || len(o.RestrictedDomains) > 0 ||
		o.Party != PartyAny
}

// IsBlocking reports whether the rule blocks requests when matched.
func (r Rule) IsBlocking() bool {
	return !r.Exception && !r.Options.BadFilter
}

// Identity returns a canonical string that is equal for two rules with the
// same pattern, anchors, polarity and options, ignoring $badfilter. It is the
// key by which a $badfilter rule cancels its target.
func (r Rule) Identity() string {
	var b strings.Builder
	if r.Exception {
		b.WriteString("@@")
	}
	switch {
	case r.AnchorHost:
		b.WriteString("||")
	case r.AnchorStart:
		b.WriteByte('|')
	}
	if r.Regex {
		b.WriteByte('/')
		b.WriteString(r.Pattern)
		b.WriteByte('/')
	} else {
		b.WriteString(r.Pattern)
	}
	if r.AnchorEnd {
		b.WriteByte('|')
	}
	o := r.Options
	b.WriteByte('$')
	fmt.Fprintf(&b, "t=%x,~t=%x,p=%d,i=%t,mc=%t", uint32(o.PermittedTypes),
		uint32(o.RestrictedTypes), o.Party, o.Important, o.MatchCase)
	if len(o.PermittedDomains) > 0 || len(o.RestrictedDomains) > 0 {
		b.WriteString(",d=")
		b.WriteString(strings.Join(o.PermittedDomains, "|"))
		b.WriteString(",~d=")
		b.WriteString(strings.Join(o.RestrictedDomains, "|"))
	}
	if o.Tag != "" {
		b.WriteString(",tag=")
		b.WriteString(o.Tag)
	}
	if o.Redirect != "" {
		fmt.Fprintf(&b, ",r=%s,rr=%t", o.Redirect, o.RedirectRule)
	}
	return b.String()
}

// String returns the raw filter text.
func (r Rule) String() string { return r.Text }
