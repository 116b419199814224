package domain

// Bits of the packed result shared with the native binding.
const (
	ResultMatched   int8 = 1
	ResultImportant int8 = 2
	ResultException int8 = 4
)

// MatchResult represents the outcome of evaluating a request against the
// filter set. Pure value type, no external dependencies.
type MatchResult struct {
	Matched   bool   // a blocking rule applies and nothing overrides it
	Exception bool   // an exception rule matched and suppressed blocking
	Important bool   // the deciding rule carries $important
	Filter    string // raw text of the deciding rule, if any
	Redirect  string // data URL of the redirect resource, if any
}

// Bits packs the three flags into the binding's integer form.
func (r MatchResult) Bits() int8 {
	var b int8
	if r.Matched {
		b |= ResultMatched
	}
	if r.Important {
		b |= ResultImportant
	}
	if r.Exception {
		b |= ResultException
	}
	return b
}

// ResultFromBits unpacks a result produced by Bits. Diagnostics are lost.
func ResultFromBits(b int8) MatchResult {
	return MatchResult{
		Matched:   b&ResultMatched != 0,
		Important: b&ResultImportant != 0,
		Exception: b&ResultException != 0,
	}
}

// IsBlocked is a convenience accessor.
func (r MatchResult) IsBlocked() bool { return r.Matched }

// EmptyResult returns a result with no rule applied.
func EmptyResult() MatchResult { return MatchResult{} }
