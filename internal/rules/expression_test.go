package rules

import (
	"testing"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsInvalidExpressions(t *testing.T) {
	c := newCompiler(t)

	tests := []struct {
		name string
		expr string
	}{
		{"syntax", "this is not valid CEL !!!"},
		{"empty", "   "},
		{"unknown binding", "age.value > 40.0"},
		{"wrong type", `"yes"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompileCondition(tt.expr, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}

	_, err := c.CompileSummand("true", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig, "summand must be numeric")

	_, err = c.CompileSummand("this.value", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig, "summand cannot see this")
}

func TestConditionSeesThisAndEarlierMatches(t *testing.T) {
	c := newCompiler(t)
	age := numVar(t, "age")
	weight := numVar(t, "weight")

	cond, err := c.CompileCondition("this.value > age.value && #coefficient > 0.0", []string{"age"})
	require.NoError(t, err)

	ok, err := cond.Matches(Bindings{
		This:        numValue(t, weight, 80),
		Matched:     map[string]domain.Value{"age": numValue(t, age, 60)},
		Coefficient: 1.5,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Matches(Bindings{
		This:        numValue(t, weight, 50),
		Matched:     map[string]domain.Value{"age": numValue(t, age, 60)},
		Coefficient: 1.5,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionOnEachValueKind(t *testing.T) {
	c := newCompiler(t)
	smoker := boolVar(t, "smoker")
	asa := asaVar(t)
	wbc := wbcVar(t)
	proc := procVar(t)

	wbcValue, err := wbc.NewValue(12.5)
	require.NoError(t, err)
	procValue, err := proc.NewValueFromCode("44140")
	require.NoError(t, err)

	tests := []struct {
		name string
		expr string
		this domain.Value
	}{
		{"boolean", "this.value", smoker.NewValue(true)},
		{"multi select", `this.value == "Class 5"`, optValue(t, asa, "Class 5")},
		{"discrete option", `this.value == ">11.0" && this.numeric > 12.0`, wbcValue},
		{"discrete category", "this.category.upperBound == 1000.0 && this.category.inclusive", wbcValue},
		{"procedure", `this.value.rvu > 20.0 && this.value.cptCode == "44140"`, procValue},
		{"variable", `this.variable.key == "smoker" && this.variable.group == "Preoperative"`, smoker.NewValue(false)},
		{"display", `this.display == "Yes"`, smoker.NewValue(true)},
		{"mixed numeric", "this.numeric > 12", wbcValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := c.CompileCondition(tt.expr, nil)
			require.NoError(t, err)
			ok, err := cond.Matches(Bindings{This: tt.this})
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestConditionRuntimeError(t *testing.T) {
	c := newCompiler(t)
	smoker := boolVar(t, "smoker")

	cond, err := c.CompileCondition("this.rvu > 1.0", nil)
	require.NoError(t, err)

	_, err = cond.Matches(Bindings{This: smoker.NewValue(true)})
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestSummand(t *testing.T) {
	c := newCompiler(t)
	age := numVar(t, "age")

	s, err := c.CompileSummand("#coefficient * age.value", []string{"age"})
	require.NoError(t, err)
	assert.Equal(t, "#coefficient * age.value", s.Source())

	got, err := s.Evaluate(Bindings{Matched: map[string]domain.Value{"age": numValue(t, age, 10)}, Coefficient: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)

	intSummand, err := c.CompileSummand("2", nil)
	require.NoError(t, err)
	got, err = intSummand.Evaluate(Bindings{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	viaMap, err := c.CompileSummand(`matched["age"].value + coefficient`, nil)
	require.NoError(t, err)
	got, err = viaMap.Evaluate(Bindings{Matched: map[string]domain.Value{"age": numValue(t, age, 10)}, Coefficient: 1})
	require.NoError(t, err)
	assert.Equal(t, 11.0, got)
}

func TestSummandNeedsDoubleLiterals(t *testing.T) {
	c := newCompiler(t)

	_, err := c.CompileSummand("#coefficient / 10", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	s, err := c.CompileSummand("#coefficient / 10.0", nil)
	require.NoError(t, err)
	got, err := s.Evaluate(Bindings{Coefficient: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestStripRefMarkers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"#coefficient", "coefficient"},
		{"#this.value && #age.value > 3.0", "this.value && age.value > 3.0"},
		{`this.value == "#1"`, `this.value == "#1"`},
		{`this.value == 'a\'#b' && #x`, `this.value == 'a\'#b' && x`},
		{"no markers", "no markers"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripRefMarkers(tt.in))
	}
}

func TestIsBindable(t *testing.T) {
	assert.True(t, isBindable("age"))
	assert.True(t, isBindable("_x1"))
	assert.False(t, isBindable("1abc"))
	assert.False(t, isBindable("in"))
	assert.False(t, isBindable("this"))
	assert.False(t, isBindable("coefficient"))
}
