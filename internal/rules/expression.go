// Package rules evaluates risk models: terms, matcher rules and the CEL
// expressions rules are written in.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-clinical/heron/internal/domain"
)

// ErrEvaluation marks an expression that compiled but failed at run time,
// e.g. by selecting a field the value does not have.
var ErrEvaluation = errors.New("expression evaluation failed")

const (
	bindThis        = "this"
	bindCoefficient = "coefficient"
	bindMatched     = "matched"
)

// Bindings is what an expression can see. This is nil for summand
// expressions.
type Bindings struct {
	This        domain.Value
	Matched     map[string]domain.Value
	Coefficient float64
}

// Condition is a compiled matcher predicate.
type Condition interface {
	Matches(b Bindings) (bool, error)
	Source() string
}

// SummandExpression is a compiled rule summand.
type SummandExpression interface {
	Evaluate(b Bindings) (float64, error)
	Source() string
}

// Compiler compiles matcher and summand expressions. It holds no mutable
// state and is safe for concurrent use.
type Compiler struct {
	conditionEnv *cel.Env
	summandEnv   *cel.Env
}

// NewCompiler creates the CEL environments expressions are checked against.
func NewCompiler() (*Compiler, error) {
	common := []cel.EnvOption{
		cel.Variable(bindCoefficient, cel.DoubleType),
		cel.Variable(bindMatched, cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	}
	summandEnv, err := cel.NewEnv(common...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	conditionEnv, err := summandEnv.Extend(cel.Variable(bindThis, cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{conditionEnv: conditionEnv, summandEnv: summandEnv}, nil
}

// CompileCondition compiles a matcher condition. earlier lists the keys of the
// variables matched before this one; each becomes a top-level binding.
func (c *Compiler) CompileCondition(expr string, earlier []string) (Condition, error) {
	prg, err := c.compile(c.conditionEnv, expr, earlier, cel.BoolType)
	if err != nil {
		return nil, err
	}
	return &celCondition{src: expr, prg: prg}, nil
}

// CompileSummand compiles a summand expression over the keys of all of a
// rule's matched variables.
//
// CEL does not mix int and double arithmetic, and coefficient and numeric
// values are doubles, so numeric literals must be written as doubles:
// "#coefficient * age.value / 10.0", not "/ 10".
func (c *Compiler) CompileSummand(expr string, matched []string) (SummandExpression, error) {
	prg, err := c.compile(c.summandEnv, expr, matched, cel.DoubleType, cel.IntType)
	if err != nil {
		return nil, err
	}
	return &celSummand{src: expr, prg: prg}, nil
}

func (c *Compiler) compile(base *cel.Env, expr string, keys []string, want ...*cel.Type) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: expression is empty", domain.ErrInvalidConfig)
	}

	env := base
	if decls := keyDecls(keys); len(decls) > 0 {
		var err error
		env, err = base.Extend(decls...)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidConfig, expr, err)
		}
	}

	ast, issues := env.Compile(stripRefMarkers(expr))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile %q: %v", domain.ErrInvalidConfig, expr, issues.Err())
	}

	out := ast.OutputType()
	ok := out.IsExactType(cel.DynType)
	for _, t := range want {
		ok = ok || out.IsExactType(t)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q returns %s", domain.ErrInvalidConfig, expr, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for %q: %v", domain.ErrInvalidConfig, expr, err)
	}
	return prg, nil
}

type celCondition struct {
	src string
	prg cel.Program
}

func (e *celCondition) Source() string { return e.src }

func (e *celCondition) Matches(b Bindings) (bool, error) {
	out, _, err := e.prg.Eval(activation(b))
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrEvaluation, e.src, err)
	}
	v, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: %q returned %s, want bool", ErrEvaluation, e.src, out.Type())
	}
	return bool(v), nil
}

type celSummand struct {
	src string
	prg cel.Program
}

func (e *celSummand) Source() string { return e.src }

func (e *celSummand) Evaluate(b Bindings) (float64, error) {
	out, _, err := e.prg.Eval(activation(b))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrEvaluation, e.src, err)
	}
	f, ok := toFloat(out)
	if !ok {
		return 0, fmt.Errorf("%w: %q returned %s, want a number", ErrEvaluation, e.src, out.Type())
	}
	return f, nil
}

// toFloat converts a numeric CEL value.
func toFloat(val ref.Val) (float64, bool) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), true
	case types.Int:
		return float64(v), true
	case types.Uint:
		return float64(v), true
	default:
		return 0, false
	}
}

func activation(b Bindings) map[string]any {
	matched := make(map[string]any, len(b.Matched))
	act := make(map[string]any, len(b.Matched)+3)
	for key, v := range b.Matched {
		cv := celValue(v)
		matched[key] = cv
		if isBindable(key) {
			act[key] = cv
		}
	}
	act[bindMatched] = matched
	act[bindCoefficient] = b.Coefficient
	if b.This != nil {
		act[bindThis] = celValue(b.This)
	}
	return act
}

// celValue renders a value as the map expressions select from: value,
// variable, display, plus kind-specific fields.
func celValue(v domain.Value) map[string]any {
	variable := v.Variable()
	m := map[string]any{
		"variable": map[string]any{
			"key":         variable.Key(),
			"displayName": variable.DisplayName(),
			"group":       variable.Group().Name,
		},
		"kind":    variable.Kind().String(),
		"display": v.DisplayString(),
	}

	switch tv := v.(type) {
	case *domain.BooleanValue:
		m["value"] = tv.Value()
	case *domain.NumericalValue:
		m["value"] = tv.Value()
	case *domain.DiscreteNumericalValue:
		c := tv.Category()
		m["value"] = c.Option().Value()
		m["category"] = map[string]any{
			"upperBound": c.UpperBound(),
			"inclusive":  c.UpperInclusive(),
			"option":     c.Option().Value(),
		}
		if n, ok := tv.Numeric(); ok {
			m["numeric"] = n
		}
	case *domain.MultiSelectValue:
		m["value"] = tv.SelectedOption().Value()
	case *domain.ProcedureValue:
		p := tv.Procedure()
		m["value"] = map[string]any{
			"cptCode":          p.CptCode,
			"rvu":              p.RVU,
			"shortDescription": p.ShortDescription,
			"longDescription":  p.LongDescription,
			"complexity":       p.Complexity,
		}
	}
	return m
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// celReserved are identifiers CEL will not accept as variable names.
var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true, "as": true,
	"break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}

// isBindable reports whether a variable key can be a top-level binding.
// Keys that cannot are still reachable through matched["key"].
func isBindable(key string) bool {
	if key == bindThis || key == bindCoefficient || key == bindMatched {
		return false
	}
	return identPattern.MatchString(key) && !celReserved[key]
}

func keyDecls(keys []string) []cel.EnvOption {
	var decls []cel.EnvOption
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] || !isBindable(k) {
			continue
		}
		seen[k] = true
		decls = append(decls, cel.Variable(k, cel.DynType))
	}
	return decls
}

// stripRefMarkers drops a '#' that prefixes an identifier outside string
// literals, so "#coefficient * 2" compiles as "coefficient * 2".
func stripRefMarkers(expr string) string {
	if !strings.Contains(expr, "#") {
		return expr
	}
	var sb strings.Builder
	sb.Grow(len(expr))
	var quote byte
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		switch {
		case quote != 0:
			if ch == '\\' && i+1 < len(expr) {
				sb.WriteByte(ch)
				i++
				ch = expr[i]
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#' && i+1 < len(expr) && isIdentStart(expr[i+1]):
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}
