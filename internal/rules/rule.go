package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/opensource-clinical/heron/internal/domain"
)

// ValueMatcher gates a rule on one variable's value.
type ValueMatcher struct {
	variable  domain.Variable
	condition Condition
	enabled   bool
}

func (m *ValueMatcher) Variable() domain.Variable { return m.variable }
func (m *ValueMatcher) Condition() Condition      { return m.condition }
func (m *ValueMatcher) Enabled() bool             { return m.enabled }

// MatcherSpec is the input to Compiler.NewRule for one matcher.
type MatcherSpec struct {
	Variable   domain.Variable
	Expression string
	Enabled    bool
}

// RuleSpec is the input to Compiler.NewRule.
type RuleSpec struct {
	Name     string
	Matchers []MatcherSpec
	Summand  string
	Required bool
}

// Rule is an ordered list of matchers and a summand expression. A rule is
// immutable once built and may be shared by several derived terms.
type Rule struct {
	name     string
	matchers []*ValueMatcher
	summand  SummandExpression
	required bool
}

// NewRule compiles every expression in spec. Each condition may refer to the
// variables of the matchers before it; the summand may refer to all of them.
// A disabled matcher still binds its value; only its condition is skipped.
func (c *Compiler) NewRule(spec RuleSpec) (*Rule, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", domain.ErrInvalidConfig)
	}
	if len(name) > 80 {
		return nil, fmt.Errorf("%w: rule name %q exceeds 80 characters", domain.ErrInvalidConfig, name)
	}

	r := &Rule{name: name, required: spec.Required}
	var bound []string
	for i, ms := range spec.Matchers {
		if ms.Variable == nil {
			return nil, fmt.Errorf("%w: rule %q: matcher %d has no variable", domain.ErrInvalidConfig, name, i)
		}
		if slices.Contains(bound, ms.Variable.Key()) {
			return nil, fmt.Errorf("%w: rule %q: variable %q matched twice", domain.ErrInvalidConfig, name, ms.Variable.Key())
		}
		cond, err := c.CompileCondition(ms.Expression, bound)
		if err != nil {
			return nil, fmt.Errorf("rule %q: matcher %d (%s): %w", name, i, ms.Variable.Key(), err)
		}
		r.matchers = append(r.matchers, &ValueMatcher{variable: ms.Variable, condition: cond, enabled: ms.Enabled})
		bound = append(bound, ms.Variable.Key())
	}

	summand, err := c.CompileSummand(spec.Summand, bound)
	if err != nil {
		return nil, fmt.Errorf("rule %q: summand: %w", name, err)
	}
	r.summand = summand
	return r, nil
}

func (r *Rule) Name() string               { return r.name }
func (r *Rule) Required() bool             { return r.required }
func (r *Rule) Summand() SummandExpression { return r.summand }
func (r *Rule) Matchers() []*ValueMatcher  { return slices.Clone(r.matchers) }

// RequiredVariables returns every matcher's variable, in matcher order.
func (r *Rule) RequiredVariables() []domain.Variable {
	vars := make([]domain.Variable, len(r.matchers))
	for i, m := range r.matchers {
		vars[i] = m.variable
	}
	return vars
}

// Apply computes the rule's summand for coefficient and values.
//
// Every matcher's variable must be present first. A required rule
// reports all absent variables in one *domain.MissingValuesError; an
// optional rule returns 0 on its first absent variable. Conditions then run
// in order, each seeing the values matched before it, and the first false
// condition returns 0 without evaluating the rest. A disabled matcher always
// matches. When all match, the summand expression is evaluated.
func (r *Rule) Apply(coefficient float64, values domain.ValueMap) (float64, error) {
	var missing *domain.MissingValuesError
	for _, m := range r.matchers {
		if _, ok := values.Lookup(m.variable); ok {
			continue
		}
		if !r.required {
			return 0, nil
		}
		if missing == nil {
			missing = domain.NewMissingValuesError()
		}
		missing.Add(m.variable)
	}
	if missing != nil {
		return 0, missing
	}

	matched := make(map[string]domain.Value, len(r.matchers))
	for _, m := range r.matchers {
		v, _ := values.Lookup(m.variable)
		if m.enabled {
			ok, err := m.condition.Matches(Bindings{This: v, Matched: matched, Coefficient: coefficient})
			if err != nil {
				return 0, fmt.Errorf("rule %q: matcher %s: %w", r.name, m.variable.Key(), err)
			}
			if !ok {
				return 0, nil
			}
		}
		matched[m.variable.Key()] = v
	}

	summand, err := r.summand.Evaluate(Bindings{Matched: matched, Coefficient: coefficient})
	if err != nil {
		return 0, fmt.Errorf("rule %q: summand: %w", r.name, err)
	}
	return summand, nil
}
