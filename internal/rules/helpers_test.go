package rules

import (
	"testing"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/stretchr/testify/require"
)

var testGroup = &domain.VariableGroup{Name: "Preoperative", DisplayOrder: 1}

func varSpec(key string) domain.VariableSpec {
	return domain.VariableSpec{Key: key, DisplayName: key, Group: testGroup}
}

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	require.NoError(t, err)
	return c
}

func boolVar(t *testing.T, key string) *domain.BooleanVariable {
	t.Helper()
	v, err := domain.NewBooleanVariable(varSpec(key))
	require.NoError(t, err)
	return v
}

func numVar(t *testing.T, key string) *domain.NumericalVariable {
	t.Helper()
	v, err := domain.NewNumericalVariable(varSpec(key), domain.DefaultRange(), "")
	require.NoError(t, err)
	return v
}

func asaVar(t *testing.T) *domain.MultiSelectVariable {
	t.Helper()
	var opts []domain.MultiSelectOption
	for _, s := range []string{"Class 1", "Class 2", "Class 3", "Class 4", "Class 5"} {
		o, err := domain.NewOption(s)
		require.NoError(t, err)
		opts = append(opts, o)
	}
	v, err := domain.NewMultiSelectVariable(varSpec("asaClassification"), domain.DisplayRadio, opts)
	require.NoError(t, err)
	return v
}

func wbcVar(t *testing.T) *domain.DiscreteNumericalVariable {
	t.Helper()
	wnl, err := domain.NewCategory(11.0, true, "WNL")
	require.NoError(t, err)
	high, err := domain.NewCategory(1000, true, ">11.0")
	require.NoError(t, err)
	v, err := domain.NewDiscreteNumericalVariable(varSpec("wbc"), domain.DefaultRange(), "x1000/uL", []domain.Category{wnl, high})
	require.NoError(t, err)
	return v
}

func procVar(t *testing.T) *domain.AttachedProcedureVariable {
	t.Helper()
	pv, err := domain.NewProcedureVariable(varSpec("procedure"))
	require.NoError(t, err)
	attached, err := pv.Attach([]domain.Procedure{
		{CptCode: "44140", RVU: 22.5, ShortDescription: "Partial colectomy"},
		{CptCode: "47562", RVU: 11.1, ShortDescription: "Lap cholecystectomy"},
	})
	require.NoError(t, err)
	return attached
}

func numValue(t *testing.T, v *domain.NumericalVariable, x float64) *domain.NumericalValue {
	t.Helper()
	val, err := v.NewValue(x)
	require.NoError(t, err)
	return val
}

func optValue(t *testing.T, v *domain.MultiSelectVariable, option string) *domain.MultiSelectValue {
	t.Helper()
	val, err := v.NewValueFromOption(option)
	require.NoError(t, err)
	return val
}
