package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-clinical/heron/internal/calculation"
	"github.com/opensource-clinical/heron/internal/catalog"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/spf13/cobra"
)

// ErrIncomplete is returned by calculate when a model lacked values. The
// partial result is still printed.
var ErrIncomplete = errors.New("calculation incomplete")

func newCalculateCommand() *cobra.Command {
	var (
		catalogPath string
		valuesPath  string
		models      []string
		patientID   string
	)

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Score a set of values offline",
		Long: `Score patient values from a JSON object keyed by variable key. The catalog
comes from --catalog, or from the configured repository when omitted. Nothing
is persisted.`,
		Example: `  heron calculate --catalog catalog.yaml --values patient.json --model Mortality
  echo '{"asaClassification":"Class 5"}' | heron calculate --catalog catalog.yaml --values -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := configFrom(cmd)

			values, err := readValues(cmd.InOrStdin(), valuesPath)
			if err != nil {
				return err
			}

			compiler, err := rules.NewCompiler()
			if err != nil {
				return err
			}

			var cat *domain.Catalog
			if catalogPath != "" {
				cat, err = catalog.LoadFile(catalogPath)
			} else {
				cat, err = loadStoredCatalog(cmd, cfg)
			}
			if err != nil {
				return err
			}

			registry := rules.NewRegistry(compiler)
			if err := registry.Load(cat); err != nil {
				return err
			}

			engine := cfg.Engine
			engine.Persist = false
			calc := calculation.NewCalculator(registry, nil, nil, nil, engine)

			result, err := calc.Calculate(ctx, &calculation.Request{
				PatientID: patientID,
				Models:    models,
				Values:    values,
			})
			if err != nil {
				var inputErr *calculation.InputError
				if errors.As(err, &inputErr) {
					for _, f := range inputErr.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s (%s)\n", f.Key, f.Message, f.Code)
					}
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result.ToResponse()); err != nil {
				return err
			}

			if result.Status == domain.StatusIncomplete {
				return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(result.ToResponse().Missing, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML file")
	cmd.Flags().StringVar(&valuesPath, "values", "", "JSON values file, or - for stdin")
	cmd.Flags().StringSliceVar(&models, "model", nil, "model to evaluate (repeatable; default all)")
	cmd.Flags().StringVar(&patientID, "patient", "", "patient identifier recorded with the result")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

func readValues(stdin io.Reader, path string) (map[string]any, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read values: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("values must be a JSON object: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

func loadStoredCatalog(cmd *cobra.Command, cfg *domain.Config) (*domain.Catalog, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.LoadCatalog(cmd.Context())
}
