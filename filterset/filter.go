// Package filterset implements the ordered CRLite filter chain and its
// aggregation rule: one full filter plus zero or more delta filters,
// queried with revocation taking precedence over a "good" verdict.
package filterset

// Status is the per-filter verdict for a single (key, timestamps) query,
// before aggregation across the chain.
type Status int

const (
	StatusGood Status = iota
	StatusNotCovered
	StatusNotEnrolled
	StatusRevoked
)

// Timestamp is a single (log ID, time) pair used to test filter coverage.
type Timestamp struct {
	LogID []byte
	Time  uint64
}

// Key identifies the certificate being queried: the SHA-256 of the
// issuer's SubjectPublicKeyInfo, plus the certificate's serial number.
type Key struct {
	IssuerSPKIHash [32]byte
	Serial         []byte
}

// Filter is the interface satisfied by a single loaded CRLite filter
// (full or delta). The actual evaluator is an opaque, pluggable
// collaborator; this package ships a minimal implementation in the
// clubcard subpackage.
type Filter interface {
	// CoverageCount returns how many of the given timestamps fall within
	// this filter's declared universe.
	CoverageCount(timestamps []Timestamp) int
	// Has returns this filter's verdict for key, given that at least the
	// minimum coverage has already been established by the caller.
	Has(key Key) Status
}

// Set is an ordered, append-only chain of filters: element 0 is the full
// filter (if any), the rest are deltas in insertion order.
type Set struct {
	filters     []Filter
	minCoverage int
}

// NewSet returns an empty filter set requiring at least minCoverage
// covered timestamps before any verdict other than NOT_COVERED is
// returned.
func NewSet(minCoverage int) *Set {
	return &Set{minCoverage: minCoverage}
}

// Reset clears the filter set, as done before installing a new full
// filter.
func (s *Set) Reset() { s.filters = nil }

// AppendFull installs f as the base filter. Callers are expected to call
// Reset first, per protocol; AppendFull simply places f at the front.
func (s *Set) AppendFull(f Filter) {
	s.filters = append([]Filter{f}, s.filters...)
}

// HasFull reports whether a base filter has been installed.
func (s *Set) HasFull() bool { return len(s.filters) > 0 }

// AppendDelta appends f to the end of the chain.
func (s *Set) AppendDelta(f Filter) {
	s.filters = append(s.filters, f)
}

// Len reports how many filters (full + deltas) are currently loaded.
func (s *Set) Len() int { return len(s.filters) }

// Query aggregates the verdict for key across every loaded filter,
// applying the coverage floor per filter and the precedence rule
// ENFORCE > UNSET > NOT_ENROLLED > NOT_COVERED across the chain.
func (s *Set) Query(key Key, timestamps []Timestamp) Status {
	if len(s.filters) == 0 {
		return StatusNotCovered
	}

	sawGood, sawNotEnrolled := false, false
	for _, f := range s.filters {
		if f.CoverageCount(timestamps) < s.minCoverage {
			continue
		}
		switch f.Has(key) {
		case StatusRevoked:
			return StatusRevoked
		case StatusGood:
			sawGood = true
		case StatusNotEnrolled:
			sawNotEnrolled = true
		case StatusNotCovered:
		}
	}

	switch {
	case sawGood:
		return StatusGood
	case sawNotEnrolled:
		return StatusNotEnrolled
	default:
		return StatusNotCovered
	}
}
