package domain

import "strings"

// Value is an immutable datum bound to the variable it answers. The set of
// implementations is closed and mirrors the variable kinds.
type Value interface {
	Variable() Variable
	DisplayString() string
	sealedValue()
}

// OptionValue is a value that selects one option of a DiscreteVariable.
type OptionValue interface {
	Value
	SelectedOption() MultiSelectOption
}

type BooleanValue struct {
	variable *BooleanVariable
	value    bool
}

func (v *BooleanValue) Variable() Variable { return v.variable }
func (v *BooleanValue) Value() bool        { return v.value }
func (v *BooleanValue) sealedValue()       {}

func (v *BooleanValue) DisplayString() string {
	if v.value {
		return "Yes"
	}
	return "No"
}

type NumericalValue struct {
	variable *NumericalVariable
	value    float64
}

func (v *NumericalValue) Variable() Variable { return v.variable }
func (v *NumericalValue) Value() float64     { return v.value }
func (v *NumericalValue) sealedValue()       {}

func (v *NumericalValue) DisplayString() string {
	return withUnits(formatFloat(v.value), v.variable.units)
}

// DiscreteNumericalValue is a category selection, optionally carrying the
// raw number it was classified from.
type DiscreteNumericalValue struct {
	variable   *DiscreteNumericalVariable
	category   Category
	numeric    float64
	hasNumeric bool
}

func (v *DiscreteNumericalValue) Variable() Variable                { return v.variable }
func (v *DiscreteNumericalValue) Category() Category                { return v.category }
func (v *DiscreteNumericalValue) SelectedOption() MultiSelectOption { return v.category.option }
func (v *DiscreteNumericalValue) sealedValue()                      {}

// Numeric returns the classified number, if the value was built from one.
func (v *DiscreteNumericalValue) Numeric() (float64, bool) {
	return v.numeric, v.hasNumeric
}

func (v *DiscreteNumericalValue) DisplayString() string {
	if !v.hasNumeric {
		return v.category.option.value
	}
	return withUnits(formatFloat(v.numeric), v.variable.units) + " (" + v.category.option.value + ")"
}

type MultiSelectValue struct {
	variable *MultiSelectVariable
	option   MultiSelectOption
}

func (v *MultiSelectValue) Variable() Variable                { return v.variable }
func (v *MultiSelectValue) SelectedOption() MultiSelectOption { return v.option }
func (v *MultiSelectValue) DisplayString() string             { return v.option.value }
func (v *MultiSelectValue) sealedValue()                      {}

type ProcedureValue struct {
	variable  *AttachedProcedureVariable
	procedure Procedure
}

func (v *ProcedureValue) Variable() Variable    { return v.variable }
func (v *ProcedureValue) Procedure() Procedure  { return v.procedure }
func (v *ProcedureValue) DisplayString() string { return v.procedure.DisplayString() }
func (v *ProcedureValue) sealedValue()          {}

// ValueMap holds the values entered for one calculation, keyed by variable
// key.
type ValueMap map[string]Value

// NewValueMap indexes values by their variable's key. A later value for the
// same key replaces an earlier one.
func NewValueMap(values ...Value) ValueMap {
	m := make(ValueMap, len(values))
	for _, v := range values {
		m.Put(v)
	}
	return m
}

func (m ValueMap) Put(v Value) {
	m[v.Variable().Key()] = v
}

// Lookup returns the value for v.
func (m ValueMap) Lookup(v Variable) (Value, bool) {
	val, ok := m[v.Key()]
	return val, ok
}

func withUnits(s, units string) string {
	if units == "" {
		return s
	}
	return strings.TrimSpace(s + " " + units)
}
