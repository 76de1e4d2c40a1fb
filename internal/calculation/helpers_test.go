package calculation

import (
	"testing"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/stretchr/testify/require"
)

func testCatalog() *domain.Catalog {
	minAge := domain.Bound{Value: 18, Inclusive: true}
	maxAge := domain.Bound{Value: 120, Inclusive: true}
	return &domain.Catalog{
		Groups: []domain.VariableGroup{
			{Name: "Demographics", DisplayOrder: 1},
			{Name: "Labs", DisplayOrder: 2},
		},
		Variables: []domain.VariableDefinition{
			{Key: "age", DisplayName: "Age", Type: "numerical", Group: "Demographics", Units: "years", Min: &minAge, Max: &maxAge},
			{Key: "smoker", DisplayName: "Current smoker", Type: "boolean", Group: "Demographics"},
			{Key: "asaClassification", DisplayName: "ASA Class", Type: "multiSelect", Group: "Demographics",
				Options: []string{"Class 1", "Class 2", "Class 3", "Class 4", "Class 5"}},
			{Key: "wbc", DisplayName: "WBC", Type: "discreteNumerical", Group: "Labs", Units: "x1000/uL",
				Categories: []domain.CategoryDefinition{
					{UpperBound: 11, Inclusive: true, Option: "WNL"},
					{UpperBound: 1000, Inclusive: true, Option: ">11.0"},
				}},
			{Key: "procedure", DisplayName: "Procedure", Type: "procedure", Group: "Demographics"},
		},
		Rules: []domain.RuleDefinition{
			{Name: "always", Summand: "#coefficient"},
		},
		Models: []domain.ModelDefinition{
			{Name: "Mortality", Terms: []domain.TermDefinition{
				{Type: domain.TermConstant, Coefficient: -1.23},
				{Type: domain.TermDiscrete, Variable: "asaClassification", Option: "Class 5", Coefficient: 0.5},
				{Type: domain.TermDerived, Rule: "always", Coefficient: 1.5},
			}},
			{Name: "Morbidity", Terms: []domain.TermDefinition{
				{Type: domain.TermConstant, Coefficient: -2},
				{Type: domain.TermNumerical, Variable: "age", Coefficient: 0.01},
				{Type: domain.TermBoolean, Variable: "smoker", Coefficient: 0.2},
				{Type: domain.TermDiscrete, Variable: "wbc", Option: ">11.0", Coefficient: 0.3},
				{Type: domain.TermProcedure, Variable: "procedure", Coefficient: 0.05},
			}},
		},
		Procedures: []domain.Procedure{
			{CptCode: "44140", RVU: 22.5, ShortDescription: "Partial colectomy"},
		},
	}
}

func newRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	compiler, err := rules.NewCompiler()
	require.NoError(t, err)
	reg := rules.NewRegistry(compiler)
	require.NoError(t, reg.Load(testCatalog()))
	return reg
}
