package domain

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

// wnl is the conventional "within normal limits" option label.
const wnl = "WNL"

// MultiSelectOption is one selectable answer of a discrete variable.
type MultiSelectOption struct {
	value string
}

// NewOption builds an option. The value must be non-empty.
func NewOption(value string) (MultiSelectOption, error) {
	if value == "" {
		return MultiSelectOption{}, configErrorf("option value is required")
	}
	if len(value) > 80 {
		return MultiSelectOption{}, configErrorf("option value %q exceeds 80 characters", value)
	}
	return MultiSelectOption{value: value}, nil
}

func (o MultiSelectOption) Value() string  { return o.value }
func (o MultiSelectOption) String() string { return o.value }

// Category is one bucket of a DiscreteNumericalVariable. Only the upper bound
// is stored; the lower bound is the previous category's upper bound, or the
// variable's minimum for the first category.
type Category struct {
	upperBound     float64
	upperInclusive bool
	option         MultiSelectOption
}

// NewCategory builds a category selecting option for values up to upperBound.
func NewCategory(upperBound float64, upperInclusive bool, option string) (Category, error) {
	if math.IsNaN(upperBound) {
		return Category{}, configErrorf("category upper bound must be a number")
	}
	opt, err := NewOption(option)
	if err != nil {
		return Category{}, err
	}
	return Category{upperBound: upperBound, upperInclusive: upperInclusive, option: opt}, nil
}

func (c Category) UpperBound() float64       { return c.upperBound }
func (c Category) UpperInclusive() bool      { return c.upperInclusive }
func (c Category) Option() MultiSelectOption { return c.option }

// Contains reports whether x falls at or below this category's upper bound.
// Callers scan categories in ascending order so the lower bound is implied.
func (c Category) Contains(x float64) bool {
	if c.upperInclusive {
		return x <= c.upperBound
	}
	return x < c.upperBound
}

// Compare orders by upper bound, then exclusive before inclusive (an
// inclusive bound holds more values), then by option value. It returns 0
// exactly when Equal is true.
func (c Category) Compare(o Category) int {
	if r := cmp.Compare(c.upperBound, o.upperBound); r != 0 {
		return r
	}
	if c.upperInclusive != o.upperInclusive {
		if c.upperInclusive {
			return 1
		}
		return -1
	}
	return strings.Compare(c.option.value, o.option.value)
}

func (c Category) Equal(o Category) bool {
	return c.upperBound == o.upperBound &&
		c.upperInclusive == o.upperInclusive &&
		c.option.value == o.option.value
}

func (c Category) IsWNL() bool {
	return strings.EqualFold(c.option.value, wnl)
}

func (c Category) String() string {
	rel := "<"
	if c.upperInclusive {
		rel = "<="
	}
	return c.option.value + " (" + rel + " " + formatFloat(c.upperBound) + ")"
}

// sortCategories returns a sorted copy of cs with duplicates removed.
func sortCategories(cs []Category) []Category {
	out := slices.Clone(cs)
	slices.SortFunc(out, Category.Compare)
	return slices.CompactFunc(out, Category.Equal)
}

// wnlFirst returns a copy of sorted with WNL categories moved to the front,
// otherwise preserving order.
func wnlFirst(sorted []Category) []Category {
	out := slices.Clone(sorted)
	slices.SortStableFunc(out, func(a, b Category) int {
		switch {
		case a.IsWNL() == b.IsWNL():
			return 0
		case a.IsWNL():
			return -1
		default:
			return 1
		}
	})
	return out
}
