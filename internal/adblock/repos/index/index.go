// Package index groups parsed network rules by cheap lookup keys so a
// request only has to be checked against a handful of candidates.
package index

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// defaultFPRate is used when BuildOptions.FPRate is out of range.
const defaultFPRate = 0.01

// Table maps a key hash to rule ids in ascending order.
type Table map[uint64][]uint32

// SortedKeys returns the table's keys in ascending order.
func (t Table) SortedKeys() []uint64 {
	keys := make([]uint64, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Index is an immutable rule index. It is safe for concurrent reads.
type Index struct {
	rules     []domain.Rule
	regexps   []*regexp.Regexp // per rule id, nil unless the rule is a regex
	hosts     Table
	shortcuts Table
	generic   []uint32
	bloom     BloomFilter
	removed   int
}

// Build indexes rules. It never fails: rules that fail validation or carry
// an uncompilable regex are dropped, and $badfilter rules cancel every rule
// with the same identity before being discarded themselves. Rule order is
// preserved, so the same input always yields identical tables.
func Build(rules []domain.Rule, opts BuildOptions) *Index {
	bad := make(map[string]struct{})
	for _, r := range rules {
		if r.Options.BadFilter {
			bad[r.Identity()] = struct{}{}
		}
	}

	kept := make([]domain.Rule, 0, len(rules))
	regexps := make([]*regexp.Regexp, 0, len(rules))
	removed := 0
	for _, r := range rules {
		if r.Options.BadFilter {
			continue
		}
		if _, cancelled := bad[r.Identity()]; cancelled {
			removed++
			continue
		}
		if r.Validate() != nil {
			removed++
			continue
		}
		re, err := compileRule(r)
		if err != nil {
			removed++
			continue
		}
		kept = append(kept, r)
		regexps = append(regexps, re)
	}

	x := &Index{
		rules:     kept,
		regexps:   regexps,
		hosts:     make(Table),
		shortcuts: make(Table),
		removed:   removed,
	}
	for i, r := range kept {
		id := uint32(i)
		if host, ok := hostOf(r); ok {
			h := hashKey(host)
			x.hosts[h] = append(x.hosts[h], id)
			continue
		}
		if key, ok := x.pickGram(shortcut(r)); ok {
			x.shortcuts[key] = append(x.shortcuts[key], id)
			continue
		}
		x.generic = append(x.generic, id)
	}
	x.fillBloom(opts)
	return x
}

// Assemble reconstructs an index from previously built parts, as read back
// from a serialized blob. It validates that every id is in range and sorted
// and that regex rules compile.
func Assemble(rules []domain.Rule, hosts, shortcuts Table, generic []uint32, opts BuildOptions) (*Index, error) {
	n := uint32(len(rules))
	check := func(what string, ids []uint32) error {
		for i, id := range ids {
			if id >= n {
				return fmt.Errorf("%s: rule id %d out of range (%d rules)", what, id, n)
			}
			if i > 0 && ids[i-1] >= id {
				return fmt.Errorf("%s: rule ids not strictly ascending", what)
			}
		}
		return nil
	}
	for k, ids := range hosts {
		if err := check(fmt.Sprintf("host key %x", k), ids); err != nil {
			return nil, err
		}
	}
	for k, ids := range shortcuts {
		if err := check(fmt.Sprintf("shortcut key %x", k), ids); err != nil {
			return nil, err
		}
	}
	if err := check("generic", generic); err != nil {
		return nil, err
	}

	regexps := make([]*regexp.Regexp, len(rules))
	for i, r := range rules {
		re, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		regexps[i] = re
	}

	if hosts == nil {
		hosts = make(Table)
	}
	if shortcuts == nil {
		shortcuts = make(Table)
	}
	x := &Index{
		rules:     rules,
		regexps:   regexps,
		hosts:     hosts,
		shortcuts: shortcuts,
		generic:   generic,
	}
	x.fillBloom(opts)
	return x, nil
}

// Empty returns an index with no rules.
func Empty() *Index {
	return &Index{hosts: make(Table), shortcuts: make(Table)}
}

// pickGram chooses the least-populated n-gram of a shortcut as its key. Ties
// go to the first n-gram, keeping the choice deterministic.
func (x *Index) pickGram(sc string) (uint64, bool) {
	if len(sc) < gramSize {
		return 0, false
	}
	var (
		best    uint64
		bestPop = -1
	)
	for i := 0; i+gramSize <= len(sc); i++ {
		h := hashKey(sc[i : i+gramSize])
		pop := len(x.shortcuts[h])
		if bestPop < 0 || pop < bestPop {
			best, bestPop = h, pop
			if pop == 0 {
				break
			}
		}
	}
	return best, true
}

// fillBloom populates the pre-filter with every table key.
func (x *Index) fillBloom(opts BuildOptions) {
	if opts.Bloom == nil {
		return
	}
	fp := opts.FPRate
	if !(fp > 0 && fp < 1) {
		fp = defaultFPRate
	}
	x.bloom = opts.Bloom.New(uint64(len(x.hosts)+len(x.shortcuts)), fp)
	var buf [9]byte
	for k := range x.hosts {
		x.bloom.Add(bloomKey(&buf, tagHost, k))
	}
	for k := range x.shortcuts {
		x.bloom.Add(bloomKey(&buf, tagShortcut, k))
	}
}

// compileRule compiles a regex rule, returning nil for plain patterns.
func compileRule(r domain.Rule) (*regexp.Regexp, error) {
	if !r.Regex {
		return nil, nil
	}
	expr := r.Pattern
	if !r.Options.MatchCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", r.Pattern, err)
	}
	return re, nil
}

// Candidates returns the ids of rules that may match req: rules pinned to
// the request host or one of its parents, rules whose key n-gram occurs in
// the URL, and the generic rules. Ids are unique and ascending, which is
// also rule order.
func (x *Index) Candidates(req domain.Request) []uint32 {
	out := make([]uint32, 0, len(x.generic)+8)
	var buf [9]byte

	for _, host := range utils.ParentDomains(req.Host) {
		h := hashKey(host)
		if x.bloom != nil && !x.bloom.MightContain(bloomKey(&buf, tagHost, h)) {
			continue
		}
		out = append(out, x.hosts[h]...)
	}

	if len(x.shortcuts) > 0 {
		u := req.LowerURL
		for i := 0; i+gramSize <= len(u); i++ {
			h := hashKey(u[i : i+gramSize])
			if x.bloom != nil && !x.bloom.MightContain(bloomKey(&buf, tagShortcut, h)) {
				continue
			}
			out = append(out, x.shortcuts[h]...)
		}
	}

	out = append(out, x.generic...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Len returns the number of indexed rules.
func (x *Index) Len() int { return len(x.rules) }

// Rule returns the rule with the given id.
func (x *Index) Rule(id uint32) domain.Rule { return x.rules[id] }

// Regexp returns the compiled expression of a regex rule, or nil.
func (x *Index) Regexp(id uint32) *regexp.Regexp { return x.regexps[id] }

// Rules returns the indexed rules in id order. Callers must not modify it.
func (x *Index) Rules() []domain.Rule { return x.rules }

// Hosts returns the host table. Callers must not modify it.
func (x *Index) Hosts() Table { return x.hosts }

// Shortcuts returns the shortcut table. Callers must not modify it.
func (x *Index) Shortcuts() Table { return x.shortcuts }

// Generic returns the ids of rules without a usable key. Callers must not
// modify it.
func (x *Index) Generic() []uint32 { return x.generic }

// Stats reports the index shape.
func (x *Index) Stats() Stats {
	return Stats{
		Rules:        len(x.rules),
		HostKeys:     len(x.hosts),
		ShortcutKeys: len(x.shortcuts),
		Generic:      len(x.generic),
		Removed:      x.removed,
	}
}
