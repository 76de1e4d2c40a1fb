package domain

import (
	"math"
)

// Bound is one end of a NumericalRange.
type Bound struct {
	Value     float64 `json:"value" yaml:"value"`
	Inclusive bool    `json:"inclusive" yaml:"inclusive"`
}

// NumericalRange is an immutable interval whose ends carry independent
// inclusive flags.
type NumericalRange struct {
	min Bound
	max Bound
}

// DefaultRange returns [0, +Inf).
func DefaultRange() NumericalRange {
	return NumericalRange{
		min: Bound{Value: 0, Inclusive: true},
		max: Bound{Value: math.Inf(1), Inclusive: false},
	}
}

// NewNumericalRange validates and builds a range.
func NewNumericalRange(lower, upper Bound) (NumericalRange, error) {
	if math.IsNaN(lower.Value) || math.IsNaN(upper.Value) {
		return NumericalRange{}, configErrorf("range bounds must be numbers")
	}
	if lower.Value > upper.Value {
		return NumericalRange{}, configErrorf("range minimum %s exceeds maximum %s", formatFloat(lower.Value), formatFloat(upper.Value))
	}
	if lower.Value == upper.Value && !(lower.Inclusive && upper.Inclusive) {
		return NumericalRange{}, configErrorf("range [%s] is empty", formatFloat(lower.Value))
	}
	return NumericalRange{min: lower, max: upper}, nil
}

func (r NumericalRange) Min() Bound { return r.min }
func (r NumericalRange) Max() Bound { return r.max }

// CheckValue returns nil if x lies within the range, or an *InvalidValueError
// naming the side and inclusivity of the bound that rejected it.
// NaN fails the lower-bound comparison.
func (r NumericalRange) CheckValue(x float64) error {
	if r.min.Inclusive {
		if !(x >= r.min.Value) {
			return &InvalidValueError{Value: x, Bound: r.min, Code: CodeTooLowInclusive}
		}
	} else if !(x > r.min.Value) {
		return &InvalidValueError{Value: x, Bound: r.min, Code: CodeTooLowExclusive}
	}

	if r.max.Inclusive {
		if !(x <= r.max.Value) {
			return &InvalidValueError{Value: x, Bound: r.max, Code: CodeTooHighInclusive}
		}
	} else if !(x < r.max.Value) {
		return &InvalidValueError{Value: x, Bound: r.max, Code: CodeTooHighExclusive}
	}
	return nil
}

// Contains reports whether CheckValue accepts x.
func (r NumericalRange) Contains(x float64) bool {
	return r.CheckValue(x) == nil
}

func (r NumericalRange) String() string {
	lo, hi := "(", ")"
	if r.min.Inclusive {
		lo = "["
	}
	if r.max.Inclusive {
		hi = "]"
	}
	return lo + formatFloat(r.min.Value) + ", " + formatFloat(r.max.Value) + hi
}
