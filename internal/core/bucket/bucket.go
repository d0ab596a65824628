// Package bucket computes sample bucket boundaries from a duration range.
package bucket

import (
	"fmt"
	"math"

	"github.com/spanlab/span-sample-gateway/internal/core/model"
)

// Boundaries are the four cut points the upstream sampler expects for
// a duration range.
type Boundaries struct {
	LowerBound  float64
	FirstBound  float64
	SecondBound float64
	UpperBound  float64
}

// Segments returns three ordered [from,to] sub-ranges covering
// [LowerBound,UpperBound]. Interior cut points sit below LowerBound
// when min > max/3, so they are clamped into the range; a clamped
// segment collapses to zero width rather than inverting.
func (b Boundaries) Segments() [3]model.Range {
	c1 := clampBound(b.FirstBound, b.LowerBound, b.UpperBound)
	c2 := clampBound(b.SecondBound, c1, b.UpperBound)
	return [3]model.Range{
		{Min: b.LowerBound, Max: c1},
		{Min: c1, Max: c2},
		{Min: c2, Max: b.UpperBound},
	}
}

func clampBound(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type InvalidRangeError struct {
	Min float64
	Max float64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid sample range [%v, %v]: bounds must be finite and min <= max", e.Min, e.Max)
}

// Bucket cuts the interior bounds at max/3 and 2*max/3, matching the
// upstream sampler's boundary placement: min=100,max=900 yields
// 300 and 600. The cuts ignore the range floor, so they coincide with
// equal thirds only when min is zero.
func Bucket(min, max float64) (Boundaries, error) {
	if !isFinite(min) || !isFinite(max) || min > max {
		return Boundaries{}, &InvalidRangeError{Min: min, Max: max}
	}
	return Boundaries{
		LowerBound:  min,
		FirstBound:  max / 3,
		SecondBound: 2 * max / 3,
		UpperBound:  max,
	}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
