package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
)

// Smallest possible encodings, used to reject counts the remaining data
// cannot hold before allocating for them.
const (
	minRuleSize  = 10
	minEntrySize = 9
)

// reader consumes a blob body. The first error sticks; later reads return
// zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	switch {
	case n == 0:
		r.fail(ErrTruncated)
		return 0
	case n < 0:
		r.fail(fmt.Errorf("%w: varint overflow", ErrCorrupt))
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.fail(ErrTruncated)
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.fail(ErrTruncated)
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

// count reads an element count and checks that the remaining data can hold
// that many elements of at least minSize bytes.
func (r *reader) count(minSize int) int {
	v := r.uvarint()
	if r.err != nil {
		return 0
	}
	if v > uint64(len(r.buf)/minSize) {
		r.fail(fmt.Errorf("%w: count %d exceeds remaining data", ErrCorrupt, v))
		return 0
	}
	return int(v)
}

func (r *reader) str() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)) {
		r.fail(ErrTruncated)
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) strs() []string {
	n := r.count(1)
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *reader) types() domain.ResourceType {
	v := r.uvarint()
	if v&^uint64(domain.AllResourceTypes) != 0 {
		r.fail(fmt.Errorf("%w: unknown resource type bits %#x", ErrCorrupt, v))
		return 0
	}
	return domain.ResourceType(v)
}

func (r *reader) rule() domain.Rule {
	var rule domain.Rule
	rule.Text = r.str()
	rule.Pattern = r.str()
	f := r.u8()
	party := domain.PartyConstraint(r.u8())
	if party > domain.PartyFirst {
		r.fail(fmt.Errorf("%w: bad party constraint %d", ErrCorrupt, party))
	}

	o := &rule.Options
	o.Party = party
	o.PermittedTypes = r.types()
	o.RestrictedTypes = r.types()
	o.PermittedDomains = r.strs()
	o.RestrictedDomains = r.strs()
	o.Tag = r.str()
	o.Redirect = r.str()

	rule.Exception = f&flagException != 0
	rule.AnchorStart = f&flagAnchorStart != 0
	rule.AnchorHost = f&flagAnchorHost != 0
	rule.AnchorEnd = f&flagAnchorEnd != 0
	rule.Regex = f&flagRegex != 0
	o.Important = f&flagImportant != 0
	o.MatchCase = f&flagMatchCase != 0
	o.RedirectRule = f&flagRedirectRule != 0
	return rule
}

// ids reads a delta-encoded id list.
func (r *reader) ids() []uint32 {
	n := r.count(1)
	if n == 0 {
		return nil
	}
	out := make([]uint32, 0, n)
	var cur uint64
	for i := 0; i < n; i++ {
		v := r.uvarint()
		if i == 0 {
			cur = v
		} else {
			cur += v
		}
		if r.err != nil {
			return nil
		}
		if v > math.MaxUint32 || cur > math.MaxUint32 {
			r.fail(fmt.Errorf("%w: rule id overflow", ErrCorrupt))
			return nil
		}
		out = append(out, uint32(cur))
	}
	return out
}

func (r *reader) table() index.Table {
	n := r.count(minEntrySize)
	t := make(index.Table, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.u64()
		if _, dup := t[k]; dup {
			r.fail(fmt.Errorf("%w: duplicate table key %x", ErrCorrupt, k))
			break
		}
		t[k] = r.ids()
	}
	return t
}
