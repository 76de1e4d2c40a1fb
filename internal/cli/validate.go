package cli

import (
	"fmt"

	"github.com/opensource-clinical/heron/internal/catalog"
	"github.com/opensource-clinical/heron/internal/rules"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a catalog file builds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.LoadFile(catalogPath)
			if err != nil {
				return err
			}

			compiler, err := rules.NewCompiler()
			if err != nil {
				return err
			}
			cfg, err := catalog.Check(compiler, cat)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", catalogPath)
			fmt.Fprintf(out, "  variables:  %d\n", len(cfg.Variables()))
			fmt.Fprintf(out, "  rules:      %d\n", len(cat.Rules))
			fmt.Fprintf(out, "  procedures: %d\n", len(cfg.Procedures()))
			for _, m := range cfg.Models() {
				fmt.Fprintf(out, "  model %s: %d terms, %d required variables\n",
					m.Name(), len(m.Terms()), len(m.RequiredVariables()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}
