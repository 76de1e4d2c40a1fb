package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
groups:
  - {name: Demographics, displayOrder: 1}
variables:
  - key: asaClassification
    displayName: ASA Class
    type: multiSelect
    group: Demographics
    options: [Class 1, Class 2, Class 3, Class 4, Class 5]
  - {key: smoker, displayName: Current smoker, type: boolean, group: Demographics}
rules:
  - {name: always, summand: "#coefficient"}
models:
  - name: Mortality
    terms:
      - {type: constant, coefficient: -1.23}
      - {type: discrete, variable: asaClassification, option: Class 5, coefficient: 0.5}
      - {type: derived, rule: always, coefficient: 1.5}
  - name: Pneumonia
    terms:
      - {type: constant, coefficient: -3}
      - {type: boolean, variable: smoker, coefficient: 0.4}
`

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "today"})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Heron 1.2.3")
	assert.Contains(t, out, "commit abc123")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	t.Run("Valid", func(t *testing.T) {
		out, err := run(t, "validate", "--catalog", writeTemp(t, dir, "ok.yaml", testCatalog))
		require.NoError(t, err)
		assert.Contains(t, out, ": ok")
		assert.Contains(t, out, "model Mortality: 3 terms, 1 required variables")
		assert.Contains(t, out, "model Pneumonia: 2 terms, 1 required variables")
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		bad := strings.Replace(testCatalog, "variable: smoker", "variable: smokr", 1)
		_, err := run(t, "validate", "--catalog", writeTemp(t, dir, "bad.yaml", bad))
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})

	t.Run("CatalogRequired", func(t *testing.T) {
		_, err := run(t, "validate")
		assert.Error(t, err)
	})
}

func TestCalculateCommand(t *testing.T) {
	dir := t.TempDir()
	cat := writeTemp(t, dir, "catalog.yaml", testCatalog)
	db := filepath.Join(dir, "heron.db")

	t.Run("Complete", func(t *testing.T) {
		values := writeTemp(t, dir, "complete.json", `{"asaClassification": "Class 5"}`)
		out, err := run(t, "calculate", "--db", db, "--catalog", cat, "--values", values, "--model", "Mortality")
		require.NoError(t, err)

		var resp domain.CalculationResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, domain.StatusComplete, resp.Status)
		assert.InDelta(t, 0.77, resp.Scores["Mortality"], 1e-9)
	})

	t.Run("Incomplete", func(t *testing.T) {
		values := writeTemp(t, dir, "partial.json", `{"asaClassification": "Class 1"}`)
		out, err := run(t, "calculate", "--db", db, "--catalog", cat, "--values", values)
		assert.ErrorIs(t, err, ErrIncomplete)
		assert.ErrorContains(t, err, "smoker")
		assert.Contains(t, out, `"INCOMPLETE"`)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		values := writeTemp(t, dir, "invalid.json", `{"smoker": "sometimes"}`)
		_, err := run(t, "calculate", "--db", db, "--catalog", cat, "--values", values)
		var inputErr *calculation.InputError
		assert.ErrorAs(t, err, &inputErr)
	})

	t.Run("ValuesMustBeObject", func(t *testing.T) {
		values := writeTemp(t, dir, "array.json", `[1, 2]`)
		_, err := run(t, "calculate", "--db", db, "--catalog", cat, "--values", values)
		assert.ErrorContains(t, err, "JSON object")
	})
}

func TestSeedThenCalculateFromRepository(t *testing.T) {
	dir := t.TempDir()
	cat := writeTemp(t, dir, "catalog.yaml", testCatalog)
	db := filepath.Join(dir, "heron.db")

	out, err := run(t, "seed", "--db", db, "--catalog", cat)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 variables, 1 rules, 2 models")

	values := writeTemp(t, dir, "values.json", `{"asaClassification": "Class 5", "smoker": true}`)
	out, err = run(t, "calculate", "--db", db, "--values", values)
	require.NoError(t, err)

	var resp domain.CalculationResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.InDelta(t, -2.6, resp.Scores["Pneumonia"], 1e-9)
}

func TestSeedRequiresCatalog(t *testing.T) {
	_, err := run(t, "seed", "--db", filepath.Join(t.TempDir(), "heron.db"))
	assert.ErrorContains(t, err, "no catalog")
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, "validate", "--tier", "enterprise", "--catalog", "unused.yaml")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
