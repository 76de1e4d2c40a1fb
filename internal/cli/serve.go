package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-clinical/heron/internal/api"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/opensource-clinical/heron/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCommand(info BuildInfo) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. In the pro tier, or with --worker, the process also
consumes calculation requests from the event bus.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("starting heron",
				"version", info.Version,
				"commit", info.Commit,
				"build_date", info.BuildDate,
				"tier", cfg.Tier,
			)

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var w *worker.Worker
			if cfg.Tier == domain.TierPro || withWorker {
				w = worker.NewWorker(a.bus, a.calc)
				if err := w.Start(); err != nil {
					return fmt.Errorf("failed to start worker: %w", err)
				}
				defer w.Stop()
			}

			handler := api.NewHandler(a.registry, a.calc, a.procedures, a.repo, a.cache, a.bus, info.Version)
			srv := api.NewServer(cfg.Server, handler)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			slog.Info("heron is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
			printBanner(cmd.OutOrStdout(), cfg, info.Version)

			select {
			case <-ctx.Done():
				slog.Info("shutting down...")
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server forced to shutdown", "error", err)
			}

			slog.Info("heron shutdown complete")
			return nil
		},
	}

	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("seed", "", "catalog file written to the repository at startup")
	cmd.Flags().Bool("explain", true, "include per-term contributions in results")
	cmd.Flags().BoolVar(&withWorker, "worker", false, "also consume calculation requests from the bus")
	return cmd
}

func printBanner(w io.Writer, cfg *domain.Config, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  HERON - surgical risk calculation engine")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /calculations                        - Score patient values")
	fmt.Fprintln(w, "    GET  /calculations/{id}                   - Get a calculation")
	fmt.Fprintln(w, "    GET  /models                              - List models")
	fmt.Fprintln(w, "    GET  /models/{name}/required-variables    - Variables a model reads")
	fmt.Fprintln(w, "    GET  /variables                           - List variables")
	fmt.Fprintln(w, "    GET  /procedures                          - List procedures")
	fmt.Fprintln(w, "    POST /catalog/reload                      - Hot-reload the catalog")
	fmt.Fprintln(w, "    GET  /health                              - Health check")
	fmt.Fprintln(w)
}
