package index

// BloomFilter is the minimal interface the index needs from its pre-filter.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory constructs Bloom filters sized for a capacity and FP rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// BuildOptions tunes index construction. A nil Bloom disables the
// pre-filter; lookups then go straight to the tables.
type BuildOptions struct {
	Bloom  BloomFactory
	FPRate float64
}

// Stats captures the shape of a built index.
type Stats struct {
	Rules        int
	HostKeys     int
	ShortcutKeys int
	Generic      int
	Removed      int // rules cancelled by $badfilter or rejected as invalid
}
