package syntaxctx

import (
	"fmt"
	"math"
)

// EndOfDocument as an interval end means "up to the end of the text,
// whatever its length".
const EndOfDocument = math.MaxInt

// Interval is a half-open byte range [Start, End).
type Interval struct {
	Start int
	End   int
}

// Len returns the length of the interval.
func (iv Interval) Len() int {
	if iv.End <= iv.Start {
		return 0
	}
	return iv.End - iv.Start
}

// Empty reports whether the interval covers no bytes.
func (iv Interval) Empty() bool {
	return iv.End <= iv.Start
}

// Contains reports whether other lies entirely inside iv. The empty interval
// is contained in everything.
func (iv Interval) Contains(other Interval) bool {
	if other.Empty() {
		return true
	}
	return other.Start >= iv.Start && other.End <= iv.End
}

// Overlaps reports whether the intervals share at least one byte.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Touches reports whether the intervals overlap or are adjacent.
func (iv Interval) Touches(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

// Union returns the smallest interval covering both. An empty operand is
// ignored.
func (iv Interval) Union(other Interval) Interval {
	switch {
	case iv.Empty():
		return other
	case other.Empty():
		return iv
	}
	return Interval{Start: min(iv.Start, other.Start), End: max(iv.End, other.End)}
}

// Intersect returns the common part of both intervals, possibly empty.
func (iv Interval) Intersect(other Interval) Interval {
	out := Interval{Start: max(iv.Start, other.Start), End: min(iv.End, other.End)}
	if out.Empty() {
		return Interval{}
	}
	return out
}

// Clip limits the interval to [0, length).
func (iv Interval) Clip(length int) Interval {
	return iv.Intersect(Interval{Start: 0, End: length})
}

func (iv Interval) String() string {
	if iv.End == EndOfDocument {
		return fmt.Sprintf("[%d, end)", iv.Start)
	}
	return fmt.Sprintf("[%d, %d)", iv.Start, iv.End)
}
