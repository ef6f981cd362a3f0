package commands

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"scenecraft/internal/queue"
)

// NewWorkerCommand creates the worker command
func NewWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued pipeline runs",
		Long: `Consume pipeline runs enqueued by the API and periodically fail runs
that were abandoned by a crashed process. Requires redis.`,
		RunE: runWorker,
	}

	cmd.Flags().Int("concurrency", 0, "Pipeline runs processed at once (overrides queue.concurrency)")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := loggerFrom(ctx)
	if err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("concurrency"); f.Changed {
		viper.Set("queue.concurrency", f.Value.String())
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("worker requires redis.addr")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper, err := a.startSweeper(ctx)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	mux := asynq.NewServeMux()
	queue.NewHandler(a.coordinator, logger).Register(mux)

	srv := queue.NewServer(cfg.Redis, cfg.Queue, logger)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start queue worker: %w", err)
	}
	logger.Info("Queue worker started",
		zap.String("queue", cfg.Queue.Name),
		zap.Int("concurrency", cfg.Queue.Concurrency))

	<-ctx.Done()
	logger.Info("Shutting down queue worker")
	srv.Shutdown()
	return nil
}
