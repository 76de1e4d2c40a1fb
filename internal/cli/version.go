package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Heron %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit %s, built %s\n", info.Commit, info.BuildDate)
		},
	}
}
