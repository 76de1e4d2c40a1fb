package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/opensource-clinical/heron/internal/worker"
	"github.com/spf13/cobra"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume calculation requests from the event bus",
		Long: `Run a bus consumer without the HTTP API. With NATS, workers share the
request subject through a queue group, so any number can run side by side.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			w := worker.NewWorker(a.bus, a.calc)
			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start worker: %w", err)
			}

			slog.Info("worker running", "models", a.registry.ModelCount())
			<-ctx.Done()
			return w.Stop()
		},
	}
}
