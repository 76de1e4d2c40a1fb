package domain

import (
	"fmt"
	"math"
)

// Catalog is the complete, serializable configuration: groups, variables,
// rules, risk models and the procedure list attached to procedure variables.
// It is what seed files hold and what the repository persists.
type Catalog struct {
	Groups     []VariableGroup      `json:"groups" yaml:"groups" validate:"dive"`
	Variables  []VariableDefinition `json:"variables" yaml:"variables" validate:"dive"`
	Rules      []RuleDefinition     `json:"rules" yaml:"rules" validate:"dive"`
	Models     []ModelDefinition    `json:"models" yaml:"models" validate:"dive"`
	Procedures []Procedure          `json:"procedures,omitempty" yaml:"procedures,omitempty" validate:"dive"`
}

// VariableDefinition describes one variable of any kind. Fields that do not
// apply to Type are ignored.
type VariableDefinition struct {
	Key         string  `json:"key" yaml:"key" validate:"required,max=40,varkey"`
	DisplayName string  `json:"displayName" yaml:"displayName" validate:"required,max=80,displayname"`
	Type        string  `json:"type" yaml:"type" validate:"required,oneof=boolean numerical discreteNumerical multiSelect procedure"`
	Group       string  `json:"group" yaml:"group" validate:"required"`
	HelpText    *string `json:"helpText,omitempty" yaml:"helpText,omitempty" validate:"omitempty,min=1,max=4000"`

	// numerical and discreteNumerical
	Min   *Bound `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *Bound `json:"max,omitempty" yaml:"max,omitempty"`
	Units string `json:"units,omitempty" yaml:"units,omitempty" validate:"max=40"`

	Categories  []CategoryDefinition `json:"categories,omitempty" yaml:"categories,omitempty" validate:"dive"`
	Options     []string             `json:"options,omitempty" yaml:"options,omitempty"`
	DisplayType DisplayType          `json:"displayType,omitempty" yaml:"displayType,omitempty"`
}

// CategoryDefinition describes a Category.
type CategoryDefinition struct {
	UpperBound float64 `json:"upperBound" yaml:"upperBound"`
	Inclusive  bool    `json:"inclusive" yaml:"inclusive"`
	Option     string  `json:"option" yaml:"option" validate:"required,max=80"`
}

// RuleDefinition describes a rule. Names are unique within a catalog.
type RuleDefinition struct {
	Name     string              `json:"name" yaml:"name" validate:"required,max=80"`
	Matchers []MatcherDefinition `json:"matchers" yaml:"matchers" validate:"dive"`
	Summand  string              `json:"summand" yaml:"summand" validate:"required"`
	Required bool                `json:"required" yaml:"required"`
}

// MatcherDefinition describes one matcher of a rule. A nil Enabled means
// enabled.
type MatcherDefinition struct {
	Variable   string `json:"variable" yaml:"variable" validate:"required"`
	Expression string `json:"expression" yaml:"expression" validate:"required"`
	Enabled    *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the matcher takes part in evaluation.
func (m MatcherDefinition) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TermType names the kind of a model term in a definition.
type TermType string

const (
	TermConstant  TermType = "constant"
	TermBoolean   TermType = "boolean"
	TermNumerical TermType = "numerical"
	TermDiscrete  TermType = "discrete"
	TermProcedure TermType = "procedure"
	TermDerived   TermType = "derived"
)

// TermDefinition describes one term of a model. Variable is used by the
// single-variable kinds, Option (or OptionIndex) by discrete terms and Rule
// by derived terms.
type TermDefinition struct {
	Type        TermType `json:"type" yaml:"type" validate:"required,oneof=constant boolean numerical discrete procedure derived"`
	Coefficient float64  `json:"coefficient" yaml:"coefficient"`
	Variable    string   `json:"variable,omitempty" yaml:"variable,omitempty"`
	Option      string   `json:"option,omitempty" yaml:"option,omitempty"`
	OptionIndex *int     `json:"optionIndex,omitempty" yaml:"optionIndex,omitempty"`
	Rule        string   `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// ModelDefinition describes a risk model. Exactly one constant term is
// required.
type ModelDefinition struct {
	Name  string           `json:"name" yaml:"name" validate:"required,max=80"`
	Terms []TermDefinition `json:"terms" yaml:"terms" validate:"required,min=1,dive"`
}

// BuildVariable constructs the variable a definition describes. group must be
// the shared group named by def.Group. Procedure variables are returned
// attached to procedures.
func BuildVariable(def VariableDefinition, group *VariableGroup, procedures []Procedure) (Variable, error) {
	if group == nil {
		return nil, configErrorf("variable %q: unknown group %q", def.Key, def.Group)
	}
	spec := VariableSpec{Key: def.Key, DisplayName: def.DisplayName, Group: group, HelpText: def.HelpText}

	kind, err := ParseVariableKind(def.Type)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", def.Key, err)
	}

	switch kind {
	case KindBoolean:
		return NewBooleanVariable(spec)

	case KindNumerical:
		rng, err := def.valueRange()
		if err != nil {
			return nil, err
		}
		return NewNumericalVariable(spec, rng, def.Units)

	case KindDiscreteNumerical:
		rng, err := def.valueRange()
		if err != nil {
			return nil, err
		}
		categories := make([]Category, 0, len(def.Categories))
		for _, cd := range def.Categories {
			c, err := NewCategory(cd.UpperBound, cd.Inclusive, cd.Option)
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", def.Key, err)
			}
			categories = append(categories, c)
		}
		return NewDiscreteNumericalVariable(spec, rng, def.Units, categories)

	case KindMultiSelect:
		options := make([]MultiSelectOption, 0, len(def.Options))
		for _, o := range def.Options {
			opt, err := NewOption(o)
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", def.Key, err)
			}
			options = append(options, opt)
		}
		displayType := def.DisplayType
		if displayType == "" {
			displayType = DisplayRadio
		}
		return NewMultiSelectVariable(spec, displayType, options)

	default:
		pv, err := NewProcedureVariable(spec)
		if err != nil {
			return nil, err
		}
		return pv.Attach(procedures)
	}
}

func (def VariableDefinition) valueRange() (NumericalRange, error) {
	if def.Min == nil && def.Max == nil {
		return DefaultRange(), nil
	}
	d := DefaultRange()
	lower, upper := d.Min(), d.Max()
	if def.Min != nil {
		lower = *def.Min
	}
	if def.Max != nil {
		upper = *def.Max
	}
	rng, err := NewNumericalRange(lower, upper)
	if err != nil {
		return NumericalRange{}, fmt.Errorf("variable %q: %w", def.Key, err)
	}
	return rng, nil
}

// DescribeVariable is the inverse of BuildVariable. An infinite upper bound
// is omitted so the definition stays JSON-encodable.
func DescribeVariable(v Variable) VariableDefinition {
	def := VariableDefinition{
		Key:         v.Key(),
		DisplayName: v.DisplayName(),
		Type:        v.Kind().String(),
		Group:       v.Group().Name,
	}
	if text, ok := v.HelpText(); ok {
		def.HelpText = &text
	}

	switch tv := v.(type) {
	case *NumericalVariable:
		def.Min, def.Max = describeRange(tv.valueRange)
		def.Units = tv.units
	case *DiscreteNumericalVariable:
		def.Min, def.Max = describeRange(tv.valueRange)
		def.Units = tv.units
		for _, c := range tv.categories {
			def.Categories = append(def.Categories, CategoryDefinition{
				UpperBound: c.upperBound,
				Inclusive:  c.upperInclusive,
				Option:     c.option.value,
			})
		}
	case *MultiSelectVariable:
		def.DisplayType = tv.displayType
		for _, o := range tv.options {
			def.Options = append(def.Options, o.value)
		}
	}
	return def
}

func describeRange(r NumericalRange) (*Bound, *Bound) {
	lower, upper := r.Min(), r.Max()
	if math.IsInf(upper.Value, 1) {
		return &lower, nil
	}
	return &lower, &upper
}
