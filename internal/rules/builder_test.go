package rules

import (
	"testing"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *domain.Catalog {
	one := 1
	return &domain.Catalog{
		Groups: []domain.VariableGroup{
			{Name: "Demographics", DisplayOrder: 1},
			{Name: "Labs", DisplayOrder: 2},
		},
		Variables: []domain.VariableDefinition{
			{Key: "wbc", DisplayName: "WBC", Type: "discreteNumerical", Group: "Labs", Units: "x1000/uL",
				Categories: []domain.CategoryDefinition{
					{UpperBound: 11, Inclusive: true, Option: "WNL"},
					{UpperBound: 1000, Inclusive: true, Option: ">11.0"},
				}},
			{Key: "age", DisplayName: "Age", Type: "numerical", Group: "Demographics", Units: "years"},
			{Key: "smoker", DisplayName: "Current smoker", Type: "boolean", Group: "Demographics"},
			{Key: "asaClassification", DisplayName: "ASA Class", Type: "multiSelect", Group: "Demographics",
				Options: []string{"Class 1", "Class 2", "Class 3", "Class 4", "Class 5"}},
			{Key: "procedure", DisplayName: "Procedure", Type: "procedure", Group: "Demographics"},
		},
		Rules: []domain.RuleDefinition{
			{Name: "always", Summand: "#coefficient"},
			{Name: "elderly smoker", Required: true, Summand: "#coefficient",
				Matchers: []domain.MatcherDefinition{
					{Variable: "age", Expression: "this.value >= 65.0"},
					{Variable: "smoker", Expression: "this.value"},
				}},
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
				{Type: domain.TermDiscrete, Variable: "wbc", OptionIndex: &one, Coefficient: 0.3},
				{Type: domain.TermProcedure, Variable: "procedure", Coefficient: 0.05},
				{Type: domain.TermDerived, Rule: "elderly smoker", Coefficient: 0.4},
			}},
		},
		Procedures: []domain.Procedure{
			{CptCode: "44140", RVU: 22.5, ShortDescription: "Partial colectomy"},
		},
	}
}

func TestBuildCatalog(t *testing.T) {
	cfg, err := newCompiler(t).Build(testCatalog())
	require.NoError(t, err)

	models := cfg.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "Morbidity", models[0].Name())
	assert.Equal(t, "Mortality", models[1].Name())

	vars := cfg.Variables()
	assert.Equal(t, []string{"age", "smoker", "asaClassification", "procedure", "wbc"}, keys(vars))

	mortality, ok := cfg.Model("Mortality")
	require.True(t, ok)
	asaVar, _ := cfg.Variable("asaClassification")
	class5, err := asaVar.(*domain.MultiSelectVariable).NewValueFromOption("Class 5")
	require.NoError(t, err)

	score, err := mortality.Evaluate(domain.NewValueMap(class5))
	require.NoError(t, err)
	assert.InDelta(t, 0.77, score, 1e-9)

	morbidity, _ := cfg.Model("Morbidity")
	assert.Equal(t, []string{"age", "procedure", "smoker", "wbc"}, keys(morbidity.RequiredVariables()))

	procVar, _ := cfg.Variable("procedure")
	attached, ok := procVar.(*domain.AttachedProcedureVariable)
	require.True(t, ok)
	assert.Len(t, attached.Procedures(), 1)

	_, ok = cfg.Rule("elderly smoker")
	assert.True(t, ok)
}

func TestBuildCatalogErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Catalog)
	}{
		{"duplicate group", func(c *domain.Catalog) { c.Groups = append(c.Groups, c.Groups[0]) }},
		{"duplicate variable", func(c *domain.Catalog) { c.Variables = append(c.Variables, c.Variables[1]) }},
		{"unknown group", func(c *domain.Catalog) { c.Variables[0].Group = "Vitals" }},
		{"duplicate rule", func(c *domain.Catalog) { c.Rules = append(c.Rules, c.Rules[0]) }},
		{"rule unknown variable", func(c *domain.Catalog) { c.Rules[1].Matchers[0].Variable = "height" }},
		{"bad expression", func(c *domain.Catalog) { c.Rules[1].Matchers[0].Expression = "this.value >=" }},
		{"duplicate model", func(c *domain.Catalog) { c.Models = append(c.Models, c.Models[0]) }},
		{"no constant", func(c *domain.Catalog) { c.Models[0].Terms = c.Models[0].Terms[1:] }},
		{"two constants", func(c *domain.Catalog) {
			c.Models[0].Terms = append(c.Models[0].Terms, domain.TermDefinition{Type: domain.TermConstant})
		}},
		{"unknown rule", func(c *domain.Catalog) { c.Models[0].Terms[2].Rule = "never" }},
		{"unknown option", func(c *domain.Catalog) { c.Models[0].Terms[1].Option = "Class 9" }},
		{"wrong variable kind", func(c *domain.Catalog) { c.Models[1].Terms[2].Variable = "age" }},
		{"option index out of range", func(c *domain.Catalog) {
			idx := 7
			c.Models[1].Terms[3].OptionIndex = &idx
		}},
		{"invalid key", func(c *domain.Catalog) { c.Variables[1].Key = "age-years" }},
		{"duplicate term", func(c *domain.Catalog) { c.Models[1].Terms = append(c.Models[1].Terms, c.Models[1].Terms[1]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := testCatalog()
			tt.mutate(cat)
			_, err := newCompiler(t).Build(cat)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestRegistryReload(t *testing.T) {
	reg := NewRegistry(newCompiler(t))
	assert.Zero(t, reg.ModelCount())
	_, ok := reg.Model("Mortality")
	assert.False(t, ok)

	require.NoError(t, reg.Load(testCatalog()))
	assert.Equal(t, 2, reg.ModelCount())
	assert.Len(t, reg.Variables(), 5)

	held := reg.Current()

	cat := testCatalog()
	cat.Models = cat.Models[:1]
	require.NoError(t, reg.Reload(cat))
	assert.Equal(t, 1, reg.ModelCount())
	assert.Len(t, held.Models(), 2, "a held configuration is unaffected by reload")

	bad := testCatalog()
	bad.Rules[0].Summand = "nope("
	assert.Error(t, reg.Reload(bad))
	assert.Equal(t, 1, reg.ModelCount(), "failed reload keeps the previous configuration")

	_, ok = reg.Variable("age")
	assert.True(t, ok)

	require.NoError(t, reg.Close())
	assert.Zero(t, reg.ModelCount())
}
