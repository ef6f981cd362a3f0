package progress

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/internal/store"
)

// Stage is a pipeline stage name
type Stage string

const (
	StagePlan      Stage = "plan"
	StageAssets    Stage = "assets"
	StageScenes    Stage = "scenes"
	StageStitch    Stage = "stitch"
	StageAudio     Stage = "audio"
	StageFinalize  Stage = "finalize"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Terminal reports whether the run has ended
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Band is the percentage range a stage moves through
type Band struct {
	Start int
	End   int
}

// Bands maps each stage to its percentage range. Assets share the front of
// the scenes range.
var Bands = map[Stage]Band{
	StagePlan:      {0, 15},
	StageAssets:    {15, 25},
	StageScenes:    {25, 75},
	StageStitch:    {75, 90},
	StageAudio:     {90, 98},
	StageFinalize:  {98, 100},
	StageCompleted: {100, 100},
}

// Snapshot is a point-in-time view of a run
type Snapshot struct {
	ProjectID     string                     `json:"projectId"`
	Stage         Stage                      `json:"stage"`
	Percent       int                        `json:"percent"`
	Message       string                     `json:"message"`
	SceneStatuses map[int]models.SceneStatus `json:"sceneStatuses"`
	Error         string                     `json:"error,omitempty"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

// Sink persists checkpoints
type Sink interface {
	SaveCheckpoint(ctx context.Context, projectID string, cp store.Checkpoint) error
}

// Tracker holds the progress of one run. Only the run's coordinator
// goroutine mutates it; Snapshot may be called from anywhere.
type Tracker struct {
	projectID string
	sink      Sink
	publisher Publisher
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewTracker creates a tracker at 0%. sink and publisher may be nil.
func NewTracker(projectID string, sink Sink, publisher Publisher, logger *zap.Logger) *Tracker {
	return &Tracker{
		projectID: projectID,
		sink:      sink,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "progress"), zap.String("project_id", projectID)),
		snapshot: Snapshot{
			ProjectID:     projectID,
			SceneStatuses: map[int]models.SceneStatus{},
		},
	}
}

// Enter moves to stage at the start of its band
func (t *Tracker) Enter(ctx context.Context, stage Stage, message string) {
	t.update(ctx, func(s *Snapshot) {
		s.Stage = stage
		s.Message = message
		s.Percent = raise(s.Percent, Bands[stage].Start)
	})
}

// Advance moves within the current stage's band. fraction is clamped to [0,1].
func (t *Tracker) Advance(ctx context.Context, fraction float64, message string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	t.update(ctx, func(s *Snapshot) {
		band := Bands[s.Stage]
		s.Percent = raise(s.Percent, band.Start+int(fraction*float64(band.End-band.Start)))
		if message != "" {
			s.Message = message
		}
	})
}

// SetScene records one scene's status
func (t *Tracker) SetScene(ctx context.Context, sceneNumber int, status models.SceneStatus) {
	t.update(ctx, func(s *Snapshot) {
		s.SceneStatuses[sceneNumber] = status
	})
}

// Complete marks the run finished at 100%
func (t *Tracker) Complete(ctx context.Context, message string) {
	t.update(ctx, func(s *Snapshot) {
		s.Stage = StageCompleted
		s.Percent = 100
		s.Message = message
	})
}

// Fail marks the run failed, keeping the percentage reached
func (t *Tracker) Fail(ctx context.Context, err error) {
	t.update(ctx, func(s *Snapshot) {
		s.Stage = StageFailed
		if err != nil {
			s.Error = err.Error()
			s.Message = "Generation failed: " + err.Error()
		}
	})
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() Snapshot {
	out := t.snapshot
	out.SceneStatuses = make(map[int]models.SceneStatus, len(t.snapshot.SceneStatuses))
	for k, v := range t.snapshot.SceneStatuses {
		out.SceneStatuses[k] = v
	}
	return out
}

func (t *Tracker) update(ctx context.Context, fn func(*Snapshot)) {
	t.mu.Lock()
	fn(&t.snapshot)
	t.snapshot.UpdatedAt = time.Now().UTC()
	snap := t.copyLocked()
	t.mu.Unlock()

	// checkpoint writes must land even when the run itself was cancelled
	ctx = context.WithoutCancel(ctx)

	if t.sink != nil {
		cp := store.Checkpoint{
			Stage:         string(snap.Stage),
			Percent:       snap.Percent,
			Message:       snap.Message,
			SceneStatuses: snap.SceneStatuses,
		}
		if err := t.sink.SaveCheckpoint(ctx, t.projectID, cp); err != nil {
			t.logger.Warn("Failed to persist progress checkpoint", zap.Error(err))
		}
	}
	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, snap); err != nil {
			t.logger.Debug("Failed to publish progress", zap.Error(err))
		}
	}
}

func raise(current, target int) int {
	if target > current {
		return target
	}
	return current
}

// FromProject rebuilds a snapshot from a project's checkpoint columns
func FromProject(p *models.Project) Snapshot {
	snap := Snapshot{
		ProjectID:     p.ID,
		Stage:         Stage(p.PipelineStage),
		Percent:       p.ProgressPercent,
		Message:       p.ProgressMessage,
		Error:         p.PipelineError,
		SceneStatuses: map[int]models.SceneStatus{},
		UpdatedAt:     p.UpdatedAt,
	}
	for k, v := range p.SceneStatuses {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && n > 0 {
			snap.SceneStatuses[n] = models.SceneStatus(s)
		}
	}
	switch p.Status {
	case models.ProjectCompleted:
		snap.Stage = StageCompleted
	case models.ProjectFailed:
		snap.Stage = StageFailed
	}
	return snap
}
