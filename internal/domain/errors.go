package domain

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrInvalidConfig marks configuration errors: bad expressions, dangling
	// references, duplicate keys and similar authoring mistakes.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingValues is matched by every *MissingValuesError.
	ErrMissingValues = errors.New("missing values")

	// ErrValueTooLow and ErrValueTooHigh are matched by *InvalidValueError.
	ErrValueTooLow  = errors.New("value too low")
	ErrValueTooHigh = errors.New("value too high")

	// ErrNotAttached is returned when a procedure list is requested for a
	// procedure variable that never had one attached.
	ErrNotAttached = errors.New("procedure list not attached")

	// ErrValueKind is returned when a value map entry has the wrong kind for
	// the term or matcher consuming it.
	ErrValueKind = errors.New("value kind mismatch")

	// ErrUnknownProcedure is returned for a CPT code that is not in the
	// attached procedure list.
	ErrUnknownProcedure = errors.New("unknown procedure")
)

// ValueCode is the machine-readable reason a value was rejected.
// The UI layer uses it to look up a localized message.
type ValueCode string

const (
	CodeTooLowInclusive  ValueCode = "tooLowInclusive"
	CodeTooLowExclusive  ValueCode = "tooLowExclusive"
	CodeTooHighInclusive ValueCode = "tooHighInclusive"
	CodeTooHighExclusive ValueCode = "tooHighExclusive"
)

// InvalidValueError reports a value outside a variable's numeric range.
type InvalidValueError struct {
	Key   string    `json:"key,omitempty"`
	Value float64   `json:"value"`
	Bound Bound     `json:"bound"`
	Code  ValueCode `json:"code"`
}

func (e *InvalidValueError) Error() string {
	var rel string
	switch e.Code {
	case CodeTooLowInclusive:
		rel = "must be >="
	case CodeTooLowExclusive:
		rel = "must be >"
	case CodeTooHighInclusive:
		rel = "must be <="
	default:
		rel = "must be <"
	}
	subject := "value"
	if e.Key != "" {
		subject = e.Key
	}
	return fmt.Sprintf("%s %s %s (got %s)", subject, rel, formatFloat(e.Bound.Value), formatFloat(e.Value))
}

// Unwrap lets errors.Is match ErrValueTooLow or ErrValueTooHigh.
func (e *InvalidValueError) Unwrap() error {
	if e.Code == CodeTooLowInclusive || e.Code == CodeTooLowExclusive {
		return ErrValueTooLow
	}
	return ErrValueTooHigh
}

// MissingValuesError lists every variable that lacked a value.
// Variables are sorted by key and unique by key.
type MissingValuesError struct {
	Variables []Variable
}

// NewMissingValuesError builds an error from the given variables,
// de-duplicating by key.
func NewMissingValuesError(vars ...Variable) *MissingValuesError {
	e := &MissingValuesError{}
	e.Add(vars...)
	return e
}

// Add records vars, skipping keys already present.
func (e *MissingValuesError) Add(vars ...Variable) {
	for _, v := range vars {
		if v == nil {
			continue
		}
		idx, found := slices.BinarySearchFunc(e.Variables, v.Key(), func(have Variable, key string) int {
			return strings.Compare(have.Key(), key)
		})
		if found {
			continue
		}
		e.Variables = slices.Insert(e.Variables, idx, v)
	}
}

// Merge folds other's variables into e.
func (e *MissingValuesError) Merge(other *MissingValuesError) {
	if other == nil {
		return
	}
	e.Add(other.Variables...)
}

// Keys returns the missing variable keys in sorted order.
func (e *MissingValuesError) Keys() []string {
	keys := make([]string, len(e.Variables))
	for i, v := range e.Variables {
		keys[i] = v.Key()
	}
	return keys
}

func (e *MissingValuesError) Error() string {
	return "missing values for: " + strings.Join(e.Keys(), ", ")
}

func (e *MissingValuesError) Unwrap() error {
	return ErrMissingValues
}

// configErrorf wraps ErrInvalidConfig with a formatted detail.
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
