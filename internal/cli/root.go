// Package cli provides the heron command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-clinical/heron/internal/config"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/spf13/cobra"
)

// BuildInfo is set at build time via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

type configKey struct{}

// NewRootCmd creates the root command and every subcommand.
func NewRootCmd(info BuildInfo) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "heron",
		Short: "Heron - surgical risk calculation engine",
		Long: `Heron evaluates surgical risk models: logistic-style sums of terms over
patient variables, authored as a catalog of variables, rules and models.`,
		Version: info.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			res, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), res.Config.Logging)
			if res.File != "" {
				slog.Debug("using config file", "path", res.File)
			}

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, res.Config))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./heron.yaml)")
	pf.String("tier", string(domain.TierCommunity), "product tier (community|pro)")
	pf.String("driver", "", "repository driver (sqlite|postgres)")
	pf.String("db", "", "path to the SQLite database")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (json|text)")
	pf.Bool("debug", false, "shorthand for --log-level debug")

	rootCmd.AddCommand(
		newServeCommand(info),
		newWorkerCommand(),
		newCalculateCommand(),
		newValidateCommand(),
		newSeedCommand(),
		newVersionCommand(info),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute(info BuildInfo) error {
	rootCmd := NewRootCmd(info)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func configFrom(cmd *cobra.Command) *domain.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*domain.Config); ok {
		return cfg
	}
	return domain.DefaultConfig()
}

func setupLogging(w io.Writer, cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
