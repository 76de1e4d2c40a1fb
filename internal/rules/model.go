package rules

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/opensource-clinical/heron/internal/domain"
)

// RiskModel sums the contributions of one constant term and any number of
// other terms.
type RiskModel struct {
	mu       sync.RWMutex
	name     string
	constant *ConstantTerm
	terms    []Term
	seen     map[string]bool
	rules    map[string]bool
}

// NewRiskModel builds a model from its constant term and the other terms.
func NewRiskModel(name string, constant *ConstantTerm, terms ...Term) (*RiskModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: model name is required", domain.ErrInvalidConfig)
	}
	if len(name) > 80 {
		return nil, fmt.Errorf("%w: model name %q exceeds 80 characters", domain.ErrInvalidConfig, name)
	}
	if constant == nil {
		return nil, fmt.Errorf("%w: model %q: a constant term is required", domain.ErrInvalidConfig, name)
	}

	m := &RiskModel{
		name:     name,
		constant: constant,
		seen:     make(map[string]bool),
		rules:    make(map[string]bool),
	}
	for _, t := range terms {
		if err := m.AddTerm(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddTerm adds a non-constant term. Duplicate terms, and a second derived
// term over the same rule, are rejected.
func (m *RiskModel) AddTerm(t Term) error {
	if t == nil {
		return fmt.Errorf("%w: model %q: nil term", domain.ErrInvalidConfig, m.name)
	}
	if t.Kind() == domain.TermConstant {
		return fmt.Errorf("%w: model %q: only one constant term is allowed", domain.ErrInvalidConfig, m.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := termIdentity(t)
	if m.seen[id] {
		return fmt.Errorf("%w: model %q: duplicate %s term", domain.ErrInvalidConfig, m.name, t.Kind())
	}
	if d, ok := t.(*DerivedTerm); ok {
		if m.rules[d.rule.Name()] {
			return fmt.Errorf("%w: model %q: rule %q is used by more than one term", domain.ErrInvalidConfig, m.name, d.rule.Name())
		}
		m.rules[d.rule.Name()] = true
	}
	m.seen[id] = true
	m.terms = append(m.terms, t)
	return nil
}

func (m *RiskModel) Name() string            { return m.name }
func (m *RiskModel) Constant() *ConstantTerm { return m.constant }

// Terms returns every term, constant first, then in the order added.
func (m *RiskModel) Terms() []Term {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Term, 0, len(m.terms)+1)
	out = append(out, m.constant)
	return append(out, m.terms...)
}

// RequiredVariables is the union of every term's required variables, sorted
// by key. It is recomputed on each call.
func (m *RiskModel) RequiredVariables() []domain.Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var vars []domain.Variable
	for _, t := range m.terms {
		vars = append(vars, t.RequiredVariables()...)
	}
	slices.SortFunc(vars, func(a, b domain.Variable) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return slices.CompactFunc(vars, domain.SameVariable)
}

// Evaluate returns the sum of every term's summand. Missing values are
// collected across all terms and reported together.
func (m *RiskModel) Evaluate(values domain.ValueMap) (float64, error) {
	contributions, err := m.Explain(values)
	if err != nil {
		return 0, err
	}
	var score float64
	for _, c := range contributions {
		score += c.Summand
	}
	return score, nil
}

// Explain returns each term's contribution, constant first.
func (m *RiskModel) Explain(values domain.ValueMap) ([]domain.TermContribution, error) {
	terms := m.Terms()
	contributions := make([]domain.TermContribution, 0, len(terms))
	var missing *domain.MissingValuesError

	for _, t := range terms {
		summand, err := t.Summand(values)
		if err != nil {
			var mv *domain.MissingValuesError
			if !errors.As(err, &mv) {
				return nil, fmt.Errorf("model %q: %w", m.name, err)
			}
			if missing == nil {
				missing = domain.NewMissingValuesError()
			}
			missing.Merge(mv)
			continue
		}
		contributions = append(contributions, domain.TermContribution{
			Term:    t.Definition(),
			Summand: summand,
		})
	}

	if missing != nil {
		return nil, missing
	}
	return contributions, nil
}
