package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
)

// defaultFPRate replaces out-of-range false-positive targets.
const defaultFPRate = 0.01

// factory implements index.BloomFactory on top of bits-and-blooms.
type factory struct{}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
func NewFactory() index.BloomFactory { return factory{} }

// New constructs a new BloomFilter instance sized for the given key count
// and target false-positive rate. A zero capacity is treated as one and an
// FP rate outside (0, 1) falls back to 1%.
func (factory) New(capacity uint64, fpRate float64) index.BloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = defaultFPRate
	}
	return &filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}

// Params reports the bit count and hash count a filter for n keys at
// rate p would use.
func Params(n uint64, p float64) (m, k uint) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = defaultFPRate
	}
	return bitsbloom.EstimateParameters(uint(n), p)
}
