package cachedomain

import "fmt"

// IntRange is a half-open-on-write, closed-on-read byte range [Start, End].
// End is exclusive of nothing — it names the last included byte — and may
// be unbounded (EndKnown == false) when the client omitted it and the
// source length wasn't known at request time.
type IntRange struct {
	Start    int64
	End      int64
	EndKnown bool
}

// NewBoundedRange builds a fully-specified range, validating against an
// optional known source length.
func NewBoundedRange(start, end int64, sourceLength int64, sourceLengthKnown bool) (IntRange, error) {
	r := IntRange{Start: start, End: end, EndKnown: true}
	return r, r.validate(sourceLength, sourceLengthKnown)
}

// NewOpenRange builds a range with no upper bound (served as "start..N-1"
// once the source length is known).
func NewOpenRange(start int64) IntRange {
	return IntRange{Start: start, EndKnown: false}
}

func (r IntRange) validate(sourceLength int64, sourceLengthKnown bool) error {
	if r.Start < 0 {
		return fmt.Errorf("%w: range start %d is negative", ErrHTTPRange, r.Start)
	}
	if r.EndKnown && r.End < r.Start {
		return fmt.Errorf("%w: range end %d precedes start %d", ErrHTTPRange, r.End, r.Start)
	}
	if r.EndKnown && sourceLengthKnown && r.End >= sourceLength {
		return fmt.Errorf("%w: range end %d exceeds source length %d", ErrHTTPRange, r.End, sourceLength)
	}
	return nil
}

// Resolve fills in an unbounded End once the source length is known,
// returning a range with EndKnown set to true.
func (r IntRange) Resolve(sourceLength int64) IntRange {
	if r.EndKnown {
		return r
	}
	return IntRange{Start: r.Start, End: sourceLength - 1, EndKnown: true}
}

// Len returns the number of bytes in the range; only valid once resolved.
func (r IntRange) Len() int64 {
	if !r.EndKnown {
		return -1
	}
	return r.End - r.Start + 1
}

// IsFullRange reports whether r spans the entire resource of the given length.
func (r IntRange) IsFullRange(sourceLength int64) bool {
	return r.Start == 0 && ((r.EndKnown && r.End == sourceLength-1) || !r.EndKnown)
}
