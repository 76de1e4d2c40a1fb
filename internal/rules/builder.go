package rules

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/opensource-clinical/heron/internal/domain"
)

// Configuration is a built catalog: every variable, rule and model ready for
// evaluation. It is immutable once Build returns.
type Configuration struct {
	variables  map[string]domain.Variable
	varOrder   []string
	rules      map[string]*Rule
	models     map[string]*RiskModel
	procedures []domain.Procedure
}

// Variable returns the variable with key.
func (c *Configuration) Variable(key string) (domain.Variable, bool) {
	v, ok := c.variables[key]
	return v, ok
}

// Variables returns every variable, ordered by group display order and then
// catalog order.
func (c *Configuration) Variables() []domain.Variable {
	out := make([]domain.Variable, 0, len(c.varOrder))
	for _, k := range c.varOrder {
		out = append(out, c.variables[k])
	}
	slices.SortStableFunc(out, func(a, b domain.Variable) int {
		return cmp.Compare(a.Group().DisplayOrder, b.Group().DisplayOrder)
	})
	return out
}

func (c *Configuration) Rule(name string) (*Rule, bool) {
	r, ok := c.rules[name]
	return r, ok
}

func (c *Configuration) Model(name string) (*RiskModel, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Models returns every model sorted by name.
func (c *Configuration) Models() []*RiskModel {
	out := make([]*RiskModel, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *RiskModel) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

func (c *Configuration) Procedures() []domain.Procedure {
	return slices.Clone(c.procedures)
}

// Build validates cat and constructs its variables, rules and models. Any
// authoring mistake fails the whole build with domain.ErrInvalidConfig.
func (c *Compiler) Build(cat *domain.Catalog) (*Configuration, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog is required", domain.ErrInvalidConfig)
	}
	if err := domain.Validate(cat); err != nil {
		return nil, err
	}

	groups := make(map[string]*domain.VariableGroup, len(cat.Groups))
	for i := range cat.Groups {
		g := cat.Groups[i]
		if _, dup := groups[g.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate group %q", domain.ErrInvalidConfig, g.Name)
		}
		groups[g.Name] = &g
	}

	cfg := &Configuration{
		variables:  make(map[string]domain.Variable, len(cat.Variables)),
		rules:      make(map[string]*Rule, len(cat.Rules)),
		models:     make(map[string]*RiskModel, len(cat.Models)),
		procedures: slices.Clone(cat.Procedures),
	}

	for _, def := range cat.Variables {
		if _, dup := cfg.variables[def.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate variable %q", domain.ErrInvalidConfig, def.Key)
		}
		v, err := domain.BuildVariable(def, groups[def.Group], cat.Procedures)
		if err != nil {
			return nil, err
		}
		cfg.variables[def.Key] = v
		cfg.varOrder = append(cfg.varOrder, def.Key)
	}

	for _, def := range cat.Rules {
		if _, dup := cfg.rules[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule %q", domain.ErrInvalidConfig, def.Name)
		}
		spec := RuleSpec{Name: def.Name, Summand: def.Summand, Required: def.Required}
		for _, md := range def.Matchers {
			v, ok := cfg.variables[md.Variable]
			if !ok {
				return nil, fmt.Errorf("%w: rule %q: unknown variable %q", domain.ErrInvalidConfig, def.Name, md.Variable)
			}
			spec.Matchers = append(spec.Matchers, MatcherSpec{Variable: v, Expression: md.Expression, Enabled: md.IsEnabled()})
		}
		r, err := c.NewRule(spec)
		if err != nil {
			return nil, err
		}
		cfg.rules[def.Name] = r
	}

	for _, def := range cat.Models {
		if _, dup := cfg.models[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate model %q", domain.ErrInvalidConfig, def.Name)
		}
		m, err := cfg.buildModel(def)
		if err != nil {
			return nil, err
		}
		cfg.models[def.Name] = m
	}

	return cfg, nil
}

func (c *Configuration) buildModel(def domain.ModelDefinition) (*RiskModel, error) {
	var constant *ConstantTerm
	var terms []Term
	for i, td := range def.Terms {
		if td.Type == domain.TermConstant {
			if constant != nil {
				return nil, fmt.Errorf("%w: model %q: more than one constant term", domain.ErrInvalidConfig, def.Name)
			}
			constant = NewConstantTerm(td.Coefficient)
			continue
		}
		t, err := c.buildTerm(td)
		if err != nil {
			return nil, fmt.Errorf("model %q: term %d: %w", def.Name, i, err)
		}
		terms = append(terms, t)
	}
	return NewRiskModel(def.Name, constant, terms...)
}

func (c *Configuration) buildTerm(td domain.TermDefinition) (Term, error) {
	if td.Type == domain.TermDerived {
		r, ok := c.rules[td.Rule]
		if !ok {
			return nil, fmt.Errorf("%w: unknown rule %q", domain.ErrInvalidConfig, td.Rule)
		}
		return NewDerivedTerm(r, td.Coefficient)
	}

	v, ok := c.variables[td.Variable]
	if !ok {
		return nil, fmt.Errorf("%w: unknown variable %q", domain.ErrInvalidConfig, td.Variable)
	}
	wrongKind := fmt.Errorf("%w: %s term cannot use %s variable %q", domain.ErrInvalidConfig, td.Type, v.Kind(), v.Key())

	switch td.Type {
	case domain.TermBoolean:
		bv, ok := v.(*domain.BooleanVariable)
		if !ok {
			return nil, wrongKind
		}
		return NewBooleanTerm(bv, td.Coefficient)

	case domain.TermNumerical:
		nv, ok := v.(*domain.NumericalVariable)
		if !ok {
			return nil, wrongKind
		}
		return NewNumericalTerm(nv, td.Coefficient)

	case domain.TermDiscrete:
		dv, ok := v.(domain.DiscreteVariable)
		if !ok {
			return nil, wrongKind
		}
		if td.OptionIndex != nil {
			return NewDiscreteTerm(dv, *td.OptionIndex, td.Coefficient)
		}
		return NewDiscreteTermForOption(dv, td.Option, td.Coefficient)

	case domain.TermProcedure:
		if v.Kind() != domain.KindProcedure {
			return nil, wrongKind
		}
		return NewProcedureTerm(v, td.Coefficient)

	default:
		return nil, fmt.Errorf("%w: unknown term type %q", domain.ErrInvalidConfig, td.Type)
	}
}
