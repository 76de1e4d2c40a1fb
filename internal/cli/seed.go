package cli

import (
	"errors"
	"fmt"

	"github.com/opensource-clinical/heron/internal/catalog"
	"github.com/opensource-clinical/heron/internal/repository"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/spf13/cobra"
)

func newSeedCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a catalog file to the repository",
		Long: `Write a catalog file to the configured repository. Definitions with the
same names are replaced; running servers pick the change up on
POST /catalog/reload.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if catalogPath == "" {
				catalogPath = cfg.Catalog.SeedPath
			}
			if catalogPath == "" {
				return errors.New("no catalog: pass --catalog or set catalog.seed_path")
			}

			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return err
			}
			defer repo.Close()

			compiler, err := rules.NewCompiler()
			if err != nil {
				return err
			}

			cat, err := catalog.Seed(cmd.Context(), repo, compiler, catalogPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d variables, %d rules, %d models, %d procedures\n",
				len(cat.Variables), len(cat.Rules), len(cat.Models), len(cat.Procedures))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML file (default: catalog.seed_path)")
	return cmd
}
