// Package matcher decides whether a request is blocked by an indexed rule
// set.
package matcher

import (
	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
)

// RedirectResolver turns a redirect resource name into a data URL.
type RedirectResolver interface {
	DataURL(name string) (string, bool)
}

// Options tunes a single match.
type Options struct {
	// Tags holds the enabled tags. Rules with a $tag outside it are ignored.
	Tags map[string]struct{}

	// SkipBlocking ignores blocking rules, as when an earlier check already
	// decided the request.
	SkipBlocking bool

	// ForceExceptions evaluates exception rules even when nothing blocks.
	ForceExceptions bool

	// Redirects resolves $redirect names. Nil disables redirects.
	Redirects RedirectResolver
}

// Verdict is the outcome of a match.
type Verdict struct {
	Result domain.MatchResult

	// Candidates is the number of rules the index offered.
	Candidates int
}

type found struct {
	rule domain.Rule
	ok   bool
}

func (f *found) take(r domain.Rule) {
	if !f.ok {
		f.rule, f.ok = r, true
	}
}

// Match evaluates req against idx. The first matching rule in index order
// decides within each class; classes rank important exception, important
// block, exception, block. Exceptions are reported only when they suppress
// a block, unless opts.ForceExceptions is set.
func Match(idx *index.Index, req domain.Request, opts Options) Verdict {
	ids := idx.Candidates(req)
	v := Verdict{Candidates: len(ids)}

	var impBlock, block, redirectOnly found
	if !opts.SkipBlocking {
		for _, id := range ids {
			r := idx.Rule(id)
			if r.Exception || (impBlock.ok && block.ok) {
				continue
			}
			if !Applies(idx, id, req, opts.Tags) {
				continue
			}
			if r.Options.RedirectRule {
				redirectOnly.take(r)
				continue
			}
			if r.Options.Important {
				impBlock.take(r)
			} else {
				block.take(r)
			}
		}
	}

	blocked := impBlock.ok || block.ok
	var impExc, exc found
	if blocked || opts.ForceExceptions {
		for _, id := range ids {
			r := idx.Rule(id)
			if !r.Exception {
				continue
			}
			if !Applies(idx, id, req, opts.Tags) {
				continue
			}
			if r.Options.Important {
				impExc.take(r)
				break
			}
			exc.take(r)
		}
	}

	switch {
	case impExc.ok:
		v.Result = domain.MatchResult{Exception: true, Important: true, Filter: impExc.rule.Text}
	case impBlock.ok:
		v.Result = domain.MatchResult{Matched: true, Important: true, Filter: impBlock.rule.Text}
		v.Result.Redirect = redirectFor(impBlock, redirectOnly, opts.Redirects)
	case exc.ok:
		v.Result = domain.MatchResult{Exception: true, Filter: exc.rule.Text}
	case block.ok:
		v.Result = domain.MatchResult{Matched: true, Filter: block.rule.Text}
		v.Result.Redirect = redirectFor(block, redirectOnly, opts.Redirects)
	}
	return v
}

// redirectFor picks the redirect of the deciding block rule, falling back to
// the first matching $redirect-rule.
func redirectFor(decider, redirectOnly found, res RedirectResolver) string {
	if res == nil {
		return ""
	}
	name := decider.rule.Options.Redirect
	if name == "" && redirectOnly.ok {
		name = redirectOnly.rule.Options.Redirect
	}
	if name == "" {
		return ""
	}
	url, _ := res.DataURL(name)
	return url
}

// Applies reports whether rule id of idx matches req: its tag is enabled,
// and the type, party, source domain and pattern constraints all hold.
func Applies(idx *index.Index, id uint32, req domain.Request, tags map[string]struct{}) bool {
	r := idx.Rule(id)
	o := r.Options
	if o.Tag != "" {
		if _, ok := tags[o.Tag]; !ok {
			return false
		}
	}
	if !typeAllowed(o, req.Type) || !partyAllowed(o.Party, req) || !domainAllowed(o, req.SourceHost) {
		return false
	}
	if r.Regex {
		re := idx.Regexp(id)
		return re != nil && re.MatchString(req.URL)
	}
	return matchPattern(r, req)
}

func typeAllowed(o domain.RuleOptions, t domain.ResourceType) bool {
	if o.PermittedTypes == 0 && o.RestrictedTypes == 0 {
		return true
	}
	if t == 0 {
		return false
	}
	if o.PermittedTypes != 0 && o.PermittedTypes&t == 0 {
		return false
	}
	return o.RestrictedTypes&t == 0
}

func partyAllowed(p domain.PartyConstraint, req domain.Request) bool {
	switch p {
	case domain.PartyThird:
		return req.PartyKnown && req.ThirdParty
	case domain.PartyFirst:
		return req.PartyKnown && !req.ThirdParty
	default:
		return true
	}
}

// domainAllowed applies $domain: the source host must fall under a
// permitted domain, if any are listed, and under none of the restricted
// ones. A restricted entry more specific than the matching permitted one
// wins.
func domainAllowed(o domain.RuleOptions, source string) bool {
	if len(o.PermittedDomains) == 0 && len(o.RestrictedDomains) == 0 {
		return true
	}
	if source == "" {
		return len(o.PermittedDomains) == 0
	}
	best := -1
	for _, d := range o.PermittedDomains {
		if utils.IsSubdomainOrEqual(source, d) && len(d) > best {
			best = len(d)
		}
	}
	if len(o.PermittedDomains) > 0 && best < 0 {
		return false
	}
	for _, d := range o.RestrictedDomains {
		if utils.IsSubdomainOrEqual(source, d) && len(d) >= best {
			return false
		}
	}
	return true
}
