package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVariableKinds(t *testing.T) {
	procs := []Procedure{{CptCode: "44140", RVU: 22.5}}

	tests := []struct {
		name string
		def  VariableDefinition
		kind VariableKind
	}{
		{"boolean", VariableDefinition{Key: "smoker", DisplayName: "Smoker", Type: "boolean", Group: "Labs"}, KindBoolean},
		{"numerical", VariableDefinition{Key: "age", DisplayName: "Age", Type: "numerical", Group: "Labs", Units: "years"}, KindNumerical},
		{"discrete", VariableDefinition{
			Key: "wbc", DisplayName: "WBC", Type: "discreteNumerical", Group: "Labs",
			Categories: []CategoryDefinition{{UpperBound: 11, Inclusive: true, Option: "WNL"}, {UpperBound: 1000, Inclusive: true, Option: ">11.0"}},
		}, KindDiscreteNumerical},
		{"multi select", VariableDefinition{
			Key: "asaClassification", DisplayName: "ASA Class", Type: "multiSelect", Group: "Labs",
			Options: []string{"Class 1", "Class 2"},
		}, KindMultiSelect},
		{"procedure", VariableDefinition{Key: "procedure", DisplayName: "Procedure", Type: "procedure", Group: "Labs"}, KindProcedure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := BuildVariable(tt.def, testGroup, procs)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.def.Key, v.Key())
			assert.Same(t, testGroup, v.Group())
		})
	}
}

func TestBuildVariableAttachesProcedures(t *testing.T) {
	v, err := BuildVariable(VariableDefinition{Key: "procedure", DisplayName: "Procedure", Type: "procedure", Group: "Labs"},
		testGroup, []Procedure{{CptCode: "44140", RVU: 22.5}})
	require.NoError(t, err)

	attached, ok := v.(*AttachedProcedureVariable)
	require.True(t, ok)
	_, found := attached.Procedure("44140")
	assert.True(t, found)
}

func TestBuildVariableErrors(t *testing.T) {
	_, err := BuildVariable(VariableDefinition{Key: "x", DisplayName: "X", Type: "boolean", Group: "Missing"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = BuildVariable(VariableDefinition{Key: "x", DisplayName: "X", Type: "date", Group: "Labs"}, testGroup, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = BuildVariable(VariableDefinition{
		Key: "x", DisplayName: "X", Type: "numerical", Group: "Labs",
		Min: &Bound{Value: 10, Inclusive: true}, Max: &Bound{Value: 1, Inclusive: true},
	}, testGroup, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildVariableRange(t *testing.T) {
	v, err := BuildVariable(VariableDefinition{
		Key: "bmi", DisplayName: "BMI", Type: "numerical", Group: "Labs",
		Min: &Bound{Value: 10}, Max: &Bound{Value: 80, Inclusive: true},
	}, testGroup, nil)
	require.NoError(t, err)

	nv := v.(*NumericalVariable)
	var ive *InvalidValueError
	require.ErrorAs(t, nv.CheckValue(10), &ive)
	assert.Equal(t, CodeTooLowExclusive, ive.Code)
	assert.NoError(t, nv.CheckValue(80))
}

func TestDescribeVariableRoundTrip(t *testing.T) {
	def := VariableDefinition{
		Key: "wbc", DisplayName: "WBC", Type: "discreteNumerical", Group: "Labs", Units: "x1000/uL",
		Categories: []CategoryDefinition{{UpperBound: 11, Inclusive: true, Option: "WNL"}, {UpperBound: 1000, Inclusive: true, Option: ">11.0"}},
	}
	v, err := BuildVariable(def, testGroup, nil)
	require.NoError(t, err)

	got := DescribeVariable(v)
	assert.Nil(t, got.Max, "infinite upper bound is omitted")
	require.NotNil(t, got.Min)
	assert.Equal(t, Bound{Value: 0, Inclusive: true}, *got.Min)
	assert.Equal(t, def.Categories, got.Categories)

	_, err = json.Marshal(got)
	assert.NoError(t, err)

	again, err := BuildVariable(got, testGroup, nil)
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestCatalogValidate(t *testing.T) {
	cat := &Catalog{
		Groups:    []VariableGroup{{Name: "Labs"}},
		Variables: []VariableDefinition{{Key: "x", DisplayName: "X", Type: "boolean", Group: "Labs"}},
		Models:    []ModelDefinition{{Name: "m", Terms: []TermDefinition{{Type: TermConstant, Coefficient: 1}}}},
	}
	require.NoError(t, Validate(cat))

	cat.Models[0].Terms[0].Type = "exponential"
	assert.ErrorIs(t, Validate(cat), ErrInvalidConfig)
}

func TestMatcherDefinitionEnabled(t *testing.T) {
	off := false
	assert.True(t, MatcherDefinition{}.IsEnabled())
	assert.False(t, MatcherDefinition{Enabled: &off}.IsEnabled())
}

func TestMissingValuesError(t *testing.T) {
	b, err := NewBooleanVariable(spec("b"))
	require.NoError(t, err)
	a, err := NewBooleanVariable(spec("a"))
	require.NoError(t, err)
	c, err := NewBooleanVariable(spec("c"))
	require.NoError(t, err)

	e := NewMissingValuesError(b, a, b)
	e.Merge(NewMissingValuesError(c, a))

	assert.Equal(t, []string{"a", "b", "c"}, e.Keys())
	assert.Equal(t, "missing values for: a, b, c", e.Error())
	assert.ErrorIs(t, e, ErrMissingValues)
}
