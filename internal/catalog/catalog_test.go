package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "testdata/surgical.yaml"

func TestLoadFile(t *testing.T) {
	cat, err := LoadFile(samplePath)
	require.NoError(t, err)

	assert.Len(t, cat.Groups, 4)
	assert.Len(t, cat.Variables, 8)
	assert.Len(t, cat.Rules, 4)
	assert.Len(t, cat.Models, 3)
	assert.Len(t, cat.Procedures, 4)

	age := cat.Variables[0]
	require.NotNil(t, age.Min)
	assert.Equal(t, domain.Bound{Value: 18, Inclusive: true}, *age.Min)

	wbc := cat.Variables[6]
	require.Len(t, wbc.Categories, 2)
	assert.Equal(t, ">11.0", wbc.Categories[1].Option)
}

func TestCheckBuildsSample(t *testing.T) {
	compiler, err := rules.NewCompiler()
	require.NoError(t, err)

	cat, err := LoadFile(samplePath)
	require.NoError(t, err)

	cfg, err := Check(compiler, cat)
	require.NoError(t, err)

	mortality, ok := cfg.Model("Mortality")
	require.True(t, ok)

	asa, ok := cfg.Variable("asaClassification")
	require.True(t, ok)
	class5, err := asa.(*domain.MultiSelectVariable).NewValueFromOption("Class 5")
	require.NoError(t, err)

	values := domain.ValueMap{}
	values.Put(class5)
	score, err := mortality.Evaluate(values)
	require.NoError(t, err)
	assert.InDelta(t, 0.77, score, 1e-9)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Empty", ""},
		{"UnknownField", "groups: []\nvariabels: []\n"},
		{"MissingModelTerms", "models:\n  - name: Empty\n"},
		{"BadVariableKey", "variables:\n  - {key: \"bad key\", displayName: Bad, type: boolean, group: G}\n"},
		{"NotYAML", "models: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "seed.db"),
	})
	require.NoError(t, err)
	defer repo.Close()

	compiler, err := rules.NewCompiler()
	require.NoError(t, err)

	_, err = Seed(ctx, repo, compiler, samplePath)
	require.NoError(t, err)

	stored, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, stored.Models, 3)
	assert.Len(t, stored.Procedures, 4)

	// The stored catalog builds the same models.
	registry := rules.NewRegistry(compiler)
	require.NoError(t, registry.Load(stored))
	assert.Equal(t, 3, registry.ModelCount())
}
