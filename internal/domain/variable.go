package domain

import (
	"fmt"
	"slices"
)

// VariableKind enumerates the closed set of variable types.
type VariableKind int

const (
	KindBoolean VariableKind = iota + 1
	KindNumerical
	KindDiscreteNumerical
	KindMultiSelect
	KindProcedure
)

func (k VariableKind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindNumerical:
		return "numerical"
	case KindDiscreteNumerical:
		return "discreteNumerical"
	case KindMultiSelect:
		return "multiSelect"
	case KindProcedure:
		return "procedure"
	default:
		return fmt.Sprintf("VariableKind(%d)", int(k))
	}
}

// ParseVariableKind is the inverse of VariableKind.String.
func ParseVariableKind(s string) (VariableKind, error) {
	for k := KindBoolean; k <= KindProcedure; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, configErrorf("unknown variable type %q", s)
}

// VariableGroup groups variables for display. Groups are shared by reference
// between the variables in them.
type VariableGroup struct {
	Name         string `json:"name" yaml:"name" validate:"required,max=80"`
	DisplayOrder int    `json:"displayOrder" yaml:"displayOrder"`
}

// Variable is a risk model input. The set of implementations is closed;
// switch on Kind or on the concrete type to handle each one.
//
// Two variables with the same key are interchangeable.
type Variable interface {
	Key() string
	DisplayName() string
	Group() *VariableGroup
	HelpText() (string, bool)
	Kind() VariableKind
	sealed()
}

// DiscreteVariable is a variable answered by selecting one of a fixed,
// ordered list of options.
type DiscreteVariable interface {
	Variable
	Options() []MultiSelectOption
}

// SameVariable reports whether a and b identify the same variable.
func SameVariable(a, b Variable) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}

// VariableSpec holds the attributes common to every variable kind.
type VariableSpec struct {
	Key         string         `validate:"required,max=40,varkey"`
	DisplayName string         `validate:"required,max=80,displayname"`
	Group       *VariableGroup `validate:"required"`
	HelpText    *string        `validate:"omitempty,min=1,max=4000"`
}

type variableBase struct {
	key         string
	displayName string
	group       *VariableGroup
	helpText    *string
}

func newVariableBase(spec VariableSpec) (variableBase, error) {
	if err := Validate(spec); err != nil {
		return variableBase{}, fmt.Errorf("variable %q: %w", spec.Key, err)
	}
	b := variableBase{key: spec.Key, displayName: spec.DisplayName, group: spec.Group}
	if spec.HelpText != nil {
		text := *spec.HelpText
		b.helpText = &text
	}
	return b, nil
}

func (b variableBase) Key() string           { return b.key }
func (b variableBase) DisplayName() string   { return b.displayName }
func (b variableBase) Group() *VariableGroup { return b.group }
func (b variableBase) sealed()               {}

func (b variableBase) HelpText() (string, bool) {
	if b.helpText == nil {
		return "", false
	}
	return *b.helpText, true
}

// BooleanVariable is a yes/no input.
type BooleanVariable struct {
	variableBase
}

func NewBooleanVariable(spec VariableSpec) (*BooleanVariable, error) {
	base, err := newVariableBase(spec)
	if err != nil {
		return nil, err
	}
	return &BooleanVariable{variableBase: base}, nil
}

func (v *BooleanVariable) Kind() VariableKind { return KindBoolean }

func (v *BooleanVariable) NewValue(b bool) *BooleanValue {
	return &BooleanValue{variable: v, value: b}
}

// NumericalVariable is a real-valued input bounded by a NumericalRange.
type NumericalVariable struct {
	variableBase
	valueRange NumericalRange
	units      string
}

func NewNumericalVariable(spec VariableSpec, valueRange NumericalRange, units string) (*NumericalVariable, error) {
	base, err := newVariableBase(spec)
	if err != nil {
		return nil, err
	}
	if len(units) > 40 {
		return nil, configErrorf("variable %q: units exceed 40 characters", spec.Key)
	}
	return &NumericalVariable{variableBase: base, valueRange: valueRange, units: units}, nil
}

func (v *NumericalVariable) Kind() VariableKind    { return KindNumerical }
func (v *NumericalVariable) Range() NumericalRange { return v.valueRange }
func (v *NumericalVariable) Units() string         { return v.units }

// CheckValue returns an *InvalidValueError if x is outside the range.
func (v *NumericalVariable) CheckValue(x float64) error {
	return checkRange(v.key, v.valueRange, x)
}

func (v *NumericalVariable) NewValue(x float64) (*NumericalValue, error) {
	if err := v.CheckValue(x); err != nil {
		return nil, err
	}
	return &NumericalValue{variable: v, value: x}, nil
}

// DiscreteNumericalVariable is a numeric input that is classified into
// ordered categories before it contributes to a score.
type DiscreteNumericalVariable struct {
	variableBase
	valueRange NumericalRange
	units      string
	categories []Category
}

func NewDiscreteNumericalVariable(spec VariableSpec, valueRange NumericalRange, units string, categories []Category) (*DiscreteNumericalVariable, error) {
	base, err := newVariableBase(spec)
	if err != nil {
		return nil, err
	}
	if len(units) > 40 {
		return nil, configErrorf("variable %q: units exceed 40 characters", spec.Key)
	}
	sorted := sortCategories(categories)
	if len(sorted) == 0 {
		return nil, configErrorf("variable %q: at least one category is required", spec.Key)
	}
	seen := make(map[string]bool, len(sorted))
	for _, c := range sorted {
		if seen[c.option.value] {
			return nil, configErrorf("variable %q: option %q used by more than one category", spec.Key, c.option.value)
		}
		seen[c.option.value] = true
	}
	return &DiscreteNumericalVariable{
		variableBase: base,
		valueRange:   valueRange,
		units:        units,
		categories:   sorted,
	}, nil
}

func (v *DiscreteNumericalVariable) Kind() VariableKind    { return KindDiscreteNumerical }
func (v *DiscreteNumericalVariable) Range() NumericalRange { return v.valueRange }
func (v *DiscreteNumericalVariable) Units() string         { return v.units }

// Categories returns the categories in ascending order.
func (v *DiscreteNumericalVariable) Categories() []Category {
	return slices.Clone(v.categories)
}

// CategoriesWnlFirst returns the categories with any WNL category first.
func (v *DiscreteNumericalVariable) CategoriesWnlFirst() []Category {
	return wnlFirst(v.categories)
}

// Options returns each category's option, in category order.
func (v *DiscreteNumericalVariable) Options() []MultiSelectOption {
	opts := make([]MultiSelectOption, len(v.categories))
	for i, c := range v.categories {
		opts[i] = c.option
	}
	return opts
}

// ContainingCategory returns the first category, in ascending order, that
// contains x.
func (v *DiscreteNumericalVariable) ContainingCategory(x float64) (Category, bool) {
	for _, c := range v.categories {
		if c.Contains(x) {
			return c, true
		}
	}
	return Category{}, false
}

func (v *DiscreteNumericalVariable) CheckValue(x float64) error {
	return checkRange(v.key, v.valueRange, x)
}

// NewValue classifies x. A value outside the range is the user's error; a
// value inside the range that no category contains is a configuration error.
func (v *DiscreteNumericalVariable) NewValue(x float64) (*DiscreteNumericalValue, error) {
	if err := v.CheckValue(x); err != nil {
		return nil, err
	}
	c, ok := v.ContainingCategory(x)
	if !ok {
		return nil, configErrorf("variable %q: no category contains in-range value %s", v.key, formatFloat(x))
	}
	return &DiscreteNumericalValue{variable: v, category: c, numeric: x, hasNumeric: true}, nil
}

// NewValueFromCategory selects c directly. c must be one of the variable's
// categories.
func (v *DiscreteNumericalVariable) NewValueFromCategory(c Category) (*DiscreteNumericalValue, error) {
	if !slices.ContainsFunc(v.categories, c.Equal) {
		return nil, configErrorf("variable %q: category %s is not defined", v.key, c)
	}
	return &DiscreteNumericalValue{variable: v, category: c}, nil
}

// NewValueFromOption selects the category whose option value is option.
func (v *DiscreteNumericalVariable) NewValueFromOption(option string) (*DiscreteNumericalValue, error) {
	for _, c := range v.categories {
		if c.option.value == option {
			return &DiscreteNumericalValue{variable: v, category: c}, nil
		}
	}
	return nil, configErrorf("variable %q: option %q is not defined", v.key, option)
}

// DisplayType controls how a MultiSelectVariable is rendered.
type DisplayType string

const (
	DisplayRadio    DisplayType = "Radio"
	DisplayDropdown DisplayType = "Dropdown"
)

// MultiSelectVariable is answered by choosing one of its options.
type MultiSelectVariable struct {
	variableBase
	options     []MultiSelectOption
	displayType DisplayType
}

func NewMultiSelectVariable(spec VariableSpec, displayType DisplayType, options []MultiSelectOption) (*MultiSelectVariable, error) {
	base, err := newVariableBase(spec)
	if err != nil {
		return nil, err
	}
	if displayType != DisplayRadio && displayType != DisplayDropdown {
		return nil, configErrorf("variable %q: unknown display type %q", spec.Key, displayType)
	}
	if len(options) == 0 {
		return nil, configErrorf("variable %q: at least one option is required", spec.Key)
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o.value == "" {
			return nil, configErrorf("variable %q: empty option", spec.Key)
		}
		if seen[o.value] {
			return nil, configErrorf("variable %q: duplicate option %q", spec.Key, o.value)
		}
		seen[o.value] = true
	}
	return &MultiSelectVariable{
		variableBase: base,
		options:      slices.Clone(options),
		displayType:  displayType,
	}, nil
}

func (v *MultiSelectVariable) Kind() VariableKind           { return KindMultiSelect }
func (v *MultiSelectVariable) DisplayType() DisplayType     { return v.displayType }
func (v *MultiSelectVariable) Options() []MultiSelectOption { return slices.Clone(v.options) }

// OptionIndex returns the position of the option whose value is value.
func (v *MultiSelectVariable) OptionIndex(value string) (int, bool) {
	i := slices.IndexFunc(v.options, func(o MultiSelectOption) bool { return o.value == value })
	return i, i >= 0
}

// NewValue selects the option at index.
func (v *MultiSelectVariable) NewValue(index int) (*MultiSelectValue, error) {
	if index < 0 || index >= len(v.options) {
		return nil, configErrorf("variable %q: option index %d out of range [0, %d)", v.key, index, len(v.options))
	}
	return &MultiSelectValue{variable: v, option: v.options[index]}, nil
}

// NewValueFromOption selects the option whose value is option.
func (v *MultiSelectVariable) NewValueFromOption(option string) (*MultiSelectValue, error) {
	i, ok := v.OptionIndex(option)
	if !ok {
		return nil, configErrorf("variable %q: option %q is not defined", v.key, option)
	}
	return v.NewValue(i)
}

// ProcedureVariable is the configured, unattached form of a procedure
// input. The procedure list is supplied separately through Attach.
type ProcedureVariable struct {
	variableBase
}

func NewProcedureVariable(spec VariableSpec) (*ProcedureVariable, error) {
	base, err := newVariableBase(spec)
	if err != nil {
		return nil, err
	}
	return &ProcedureVariable{variableBase: base}, nil
}

func (v *ProcedureVariable) Kind() VariableKind { return KindProcedure }

// Attach binds a procedure list, producing the variable stage that can
// build values. v itself is not modified.
func (v *ProcedureVariable) Attach(procedures []Procedure) (*AttachedProcedureVariable, error) {
	byCode := make(map[string]int, len(procedures))
	for i, p := range procedures {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("variable %q: procedure %q: %w", v.key, p.CptCode, err)
		}
		if _, dup := byCode[p.CptCode]; dup {
			return nil, configErrorf("variable %q: duplicate procedure %q", v.key, p.CptCode)
		}
		byCode[p.CptCode] = i
	}
	return &AttachedProcedureVariable{
		variableBase: v.variableBase,
		procedures:   slices.Clone(procedures),
		byCode:       byCode,
	}, nil
}

// AttachedProcedureVariable is a ProcedureVariable with its procedure list.
type AttachedProcedureVariable struct {
	variableBase
	procedures []Procedure
	byCode     map[string]int
}

func (v *AttachedProcedureVariable) Kind() VariableKind { return KindProcedure }

func (v *AttachedProcedureVariable) Procedures() []Procedure {
	return slices.Clone(v.procedures)
}

// Procedure looks up a procedure by CPT code.
func (v *AttachedProcedureVariable) Procedure(cptCode string) (Procedure, bool) {
	i, ok := v.byCode[cptCode]
	if !ok {
		return Procedure{}, false
	}
	return v.procedures[i], true
}

func (v *AttachedProcedureVariable) NewValue(p Procedure) *ProcedureValue {
	return &ProcedureValue{variable: v, procedure: p}
}

func (v *AttachedProcedureVariable) NewValueFromCode(cptCode string) (*ProcedureValue, error) {
	p, ok := v.Procedure(cptCode)
	if !ok {
		return nil, fmt.Errorf("%w: %q for variable %q", ErrUnknownProcedure, cptCode, v.key)
	}
	return v.NewValue(p), nil
}

func checkRange(key string, r NumericalRange, x float64) error {
	err := r.CheckValue(x)
	if ive, ok := err.(*InvalidValueError); ok {
		ive.Key = key
		return ive
	}
	return err
}
