package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/internal/progress"
	"scenecraft/internal/store"
)

// InterruptedMessage is recorded on runs the sweeper closes
const InterruptedMessage = "pipeline run interrupted"

// StaleRunRepository is the part of the store the sweeper needs
type StaleRunRepository interface {
	ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]models.Project, error)
	SaveCheckpoint(ctx context.Context, projectID string, cp store.Checkpoint) error
	FinishRun(ctx context.Context, projectID string, status models.ProjectStatus, errMsg string) error
}

// Sweeper fails runs left generating by a process that died mid-run
type Sweeper struct {
	repo   StaleRunRepository
	maxAge time.Duration
	logger *zap.Logger
}

// NewSweeper creates a sweeper. maxAge must exceed the pipeline's total
// timeout so live runs are never swept.
func NewSweeper(repo StaleRunRepository, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:   repo,
		maxAge: maxAge,
		logger: logger.With(zap.String("component", "sweeper")),
	}
}

// Sweep fails every stale run and returns how many it closed
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStaleRuns(ctx, time.Now().Add(-s.maxAge))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, p := range stale {
		snap := progress.FromProject(&p)
		cp := store.Checkpoint{
			Stage:         string(progress.StageFailed),
			Percent:       snap.Percent,
			Message:       "Generation failed: " + InterruptedMessage,
			SceneStatuses: snap.SceneStatuses,
		}
		if err := s.repo.SaveCheckpoint(ctx, p.ID, cp); err != nil {
			s.logger.Warn("Failed to checkpoint stale run", zap.String("project_id", p.ID), zap.Error(err))
		}
		if err := s.repo.FinishRun(ctx, p.ID, models.ProjectFailed, InterruptedMessage); err != nil {
			s.logger.Warn("Failed to close stale run", zap.String("project_id", p.ID), zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("Closed stale pipeline runs", zap.Int("count", swept))
	}
	return swept, nil
}
