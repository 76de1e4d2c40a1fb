package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-clinical/heron/internal/domain"
)

// Term is one contribution to a risk score. The set of implementations is
// closed: ConstantTerm, BooleanTerm, NumericalTerm, DiscreteTerm,
// ProcedureTerm and DerivedTerm.
type Term interface {
	Kind() domain.TermType
	Coefficient() float64

	// RequiredVariables never contains nil.
	RequiredVariables() []domain.Variable

	// Summand returns the term's contribution, or a *domain.MissingValuesError
	// naming every required variable absent from values.
	Summand(values domain.ValueMap) (float64, error)

	// Definition describes the term in catalog form.
	Definition() domain.TermDefinition
}

// termIdentity is equal for two terms exactly when they are duplicates.
func termIdentity(t Term) string {
	d := t.Definition()
	return strings.Join([]string{
		string(d.Type),
		d.Variable,
		d.Option,
		d.Rule,
		strconv.FormatFloat(d.Coefficient, 'g', -1, 64),
	}, "\x00")
}

// ConstantTerm contributes its coefficient unconditionally.
type ConstantTerm struct {
	coefficient float64
}

func NewConstantTerm(coefficient float64) *ConstantTerm {
	return &ConstantTerm{coefficient: coefficient}
}

func (t *ConstantTerm) Kind() domain.TermType                    { return domain.TermConstant }
func (t *ConstantTerm) Coefficient() float64                     { return t.coefficient }
func (t *ConstantTerm) RequiredVariables() []domain.Variable     { return nil }
func (t *ConstantTerm) Summand(domain.ValueMap) (float64, error) { return t.coefficient, nil }

func (t *ConstantTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{Type: domain.TermConstant, Coefficient: t.coefficient}
}

// BooleanTerm contributes its coefficient when the variable is true.
type BooleanTerm struct {
	variable    *domain.BooleanVariable
	coefficient float64
}

func NewBooleanTerm(v *domain.BooleanVariable, coefficient float64) (*BooleanTerm, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: boolean term requires a variable", domain.ErrInvalidConfig)
	}
	return &BooleanTerm{variable: v, coefficient: coefficient}, nil
}

func (t *BooleanTerm) Kind() domain.TermType                { return domain.TermBoolean }
func (t *BooleanTerm) Coefficient() float64                 { return t.coefficient }
func (t *BooleanTerm) Variable() *domain.BooleanVariable    { return t.variable }
func (t *BooleanTerm) RequiredVariables() []domain.Variable { return []domain.Variable{t.variable} }

func (t *BooleanTerm) Summand(values domain.ValueMap) (float64, error) {
	v, err := lookup[*domain.BooleanValue](values, t.variable)
	if err != nil {
		return 0, err
	}
	if v.Value() {
		return t.coefficient, nil
	}
	return 0, nil
}

func (t *BooleanTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{Type: domain.TermBoolean, Coefficient: t.coefficient, Variable: t.variable.Key()}
}

// NumericalTerm contributes coefficient * value.
type NumericalTerm struct {
	variable    *domain.NumericalVariable
	coefficient float64
}

func NewNumericalTerm(v *domain.NumericalVariable, coefficient float64) (*NumericalTerm, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: numerical term requires a variable", domain.ErrInvalidConfig)
	}
	return &NumericalTerm{variable: v, coefficient: coefficient}, nil
}

func (t *NumericalTerm) Kind() domain.TermType                { return domain.TermNumerical }
func (t *NumericalTerm) Coefficient() float64                 { return t.coefficient }
func (t *NumericalTerm) Variable() *domain.NumericalVariable  { return t.variable }
func (t *NumericalTerm) RequiredVariables() []domain.Variable { return []domain.Variable{t.variable} }

func (t *NumericalTerm) Summand(values domain.ValueMap) (float64, error) {
	v, err := lookup[*domain.NumericalValue](values, t.variable)
	if err != nil {
		return 0, err
	}
	return t.coefficient * v.Value(), nil
}

func (t *NumericalTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{Type: domain.TermNumerical, Coefficient: t.coefficient, Variable: t.variable.Key()}
}

// DiscreteTerm is bound to one option of a discrete variable and contributes
// its coefficient only when that option is selected.
type DiscreteTerm struct {
	variable    domain.DiscreteVariable
	option      domain.MultiSelectOption
	index       int
	coefficient float64
}

// NewDiscreteTerm binds the term to the option at index.
func NewDiscreteTerm(v domain.DiscreteVariable, index int, coefficient float64) (*DiscreteTerm, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: discrete term requires a variable", domain.ErrInvalidConfig)
	}
	options := v.Options()
	if index < 0 || index >= len(options) {
		return nil, fmt.Errorf("%w: discrete term on %q: option index %d out of range [0, %d)",
			domain.ErrInvalidConfig, v.Key(), index, len(options))
	}
	return &DiscreteTerm{variable: v, option: options[index], index: index, coefficient: coefficient}, nil
}

// NewDiscreteTermForOption binds the term to the option whose value is option.
func NewDiscreteTermForOption(v domain.DiscreteVariable, option string, coefficient float64) (*DiscreteTerm, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: discrete term requires a variable", domain.ErrInvalidConfig)
	}
	for i, o := range v.Options() {
		if o.Value() == option {
			return NewDiscreteTerm(v, i, coefficient)
		}
	}
	return nil, fmt.Errorf("%w: discrete term on %q: option %q is not defined", domain.ErrInvalidConfig, v.Key(), option)
}

func (t *DiscreteTerm) Kind() domain.TermType                { return domain.TermDiscrete }
func (t *DiscreteTerm) Coefficient() float64                 { return t.coefficient }
func (t *DiscreteTerm) Variable() domain.DiscreteVariable    { return t.variable }
func (t *DiscreteTerm) Option() domain.MultiSelectOption     { return t.option }
func (t *DiscreteTerm) OptionIndex() int                     { return t.index }
func (t *DiscreteTerm) RequiredVariables() []domain.Variable { return []domain.Variable{t.variable} }

func (t *DiscreteTerm) Summand(values domain.ValueMap) (float64, error) {
	v, err := lookup[domain.OptionValue](values, t.variable)
	if err != nil {
		return 0, err
	}
	if v.SelectedOption().Value() == t.option.Value() {
		return t.coefficient, nil
	}
	return 0, nil
}

func (t *DiscreteTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{
		Type:        domain.TermDiscrete,
		Coefficient: t.coefficient,
		Variable:    t.variable.Key(),
		Option:      t.option.Value(),
	}
}

// ProcedureTerm contributes coefficient * RVU of the selected procedure.
type ProcedureTerm struct {
	variable    domain.Variable
	coefficient float64
}

// NewProcedureTerm accepts a procedure variable in either stage; values for
// it are always built from the attached stage.
func NewProcedureTerm(v domain.Variable, coefficient float64) (*ProcedureTerm, error) {
	if v == nil || v.Kind() != domain.KindProcedure {
		return nil, fmt.Errorf("%w: procedure term requires a procedure variable", domain.ErrInvalidConfig)
	}
	return &ProcedureTerm{variable: v, coefficient: coefficient}, nil
}

func (t *ProcedureTerm) Kind() domain.TermType                { return domain.TermProcedure }
func (t *ProcedureTerm) Coefficient() float64                 { return t.coefficient }
func (t *ProcedureTerm) Variable() domain.Variable            { return t.variable }
func (t *ProcedureTerm) RequiredVariables() []domain.Variable { return []domain.Variable{t.variable} }

func (t *ProcedureTerm) Summand(values domain.ValueMap) (float64, error) {
	v, err := lookup[*domain.ProcedureValue](values, t.variable)
	if err != nil {
		return 0, err
	}
	return t.coefficient * v.Procedure().RVU, nil
}

func (t *ProcedureTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{Type: domain.TermProcedure, Coefficient: t.coefficient, Variable: t.variable.Key()}
}

// DerivedTerm delegates to a shared Rule.
type DerivedTerm struct {
	rule        *Rule
	coefficient float64
}

func NewDerivedTerm(rule *Rule, coefficient float64) (*DerivedTerm, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: derived term requires a rule", domain.ErrInvalidConfig)
	}
	return &DerivedTerm{rule: rule, coefficient: coefficient}, nil
}

func (t *DerivedTerm) Kind() domain.TermType                { return domain.TermDerived }
func (t *DerivedTerm) Coefficient() float64                 { return t.coefficient }
func (t *DerivedTerm) Rule() *Rule                          { return t.rule }
func (t *DerivedTerm) RequiredVariables() []domain.Variable { return t.rule.RequiredVariables() }

func (t *DerivedTerm) Summand(values domain.ValueMap) (float64, error) {
	return t.rule.Apply(t.coefficient, values)
}

func (t *DerivedTerm) Definition() domain.TermDefinition {
	return domain.TermDefinition{Type: domain.TermDerived, Coefficient: t.coefficient, Rule: t.rule.Name()}
}

// lookup fetches the value for v and asserts its kind.
func lookup[V domain.Value](values domain.ValueMap, v domain.Variable) (V, error) {
	var zero V
	raw, ok := values.Lookup(v)
	if !ok {
		return zero, domain.NewMissingValuesError(v)
	}
	tv, ok := raw.(V)
	if !ok {
		return zero, fmt.Errorf("%w: %s has a %s value", domain.ErrValueKind, v.Key(), raw.Variable().Kind())
	}
	return tv, nil
}
