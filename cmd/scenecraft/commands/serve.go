package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"scenecraft/internal/api"
	"scenecraft/internal/queue"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Full pipeline runs started through the API are
enqueued for worker processes when the queue is enabled, and run inside
this process otherwise.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("auto-migrate", false, "Migrate the database schema on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := loggerFrom(ctx)
	if err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("addr"); f.Changed {
		viper.Set("server.addr", f.Value.String())
	}
	if f := cmd.Flags().Lookup("auto-migrate"); f.Changed {
		viper.Set("database.auto-migrate", true)
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		dispatcher queue.Dispatcher
		inProcess  *queue.InProcessDispatcher
	)
	if cfg.Queue.Enabled {
		client := asynq.NewClient(queue.RedisOpt(cfg.Redis))
		defer client.Close()
		dispatcher = queue.NewAsynqDispatcher(client, cfg.Queue.Name, a.staleAge(), logger)
		logger.Info("Dispatching pipeline runs to the queue", zap.String("queue", cfg.Queue.Name))
	} else {
		inProcess = queue.NewInProcessDispatcher(ctx, a.coordinator, logger)
		dispatcher = inProcess

		sweeper, err := a.startSweeper(ctx)
		if err != nil {
			return err
		}
		defer sweeper.Stop()
		logger.Info("Running pipeline runs in process")
	}

	server := api.NewServer(api.Dependencies{
		Repo:       a.repo,
		Pipeline:   a.coordinator,
		Dispatcher: dispatcher,
		Images:     a.assets,
		Music:      a.music,
		Store:      a.store,
		Publisher:  a.publisher,
		Health:     a.health,
	}, api.Options{
		Mode:         cfg.Server.Mode,
		JWTSecret:    cfg.Auth.JWTSecret,
		PollInterval: cfg.Server.PollInterval,
		MaxAssets:    cfg.Pipeline.MaxAssets,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt-secret is empty, every request runs as the anonymous owner")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if inProcess != nil {
		// runs stop at their next stage boundary and record the failure
		inProcess.Wait()
	}
	return nil
}
