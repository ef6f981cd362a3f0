package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"scenecraft/internal/models"
	"scenecraft/internal/store"
)

type recordingSink struct {
	mu          sync.Mutex
	checkpoints []store.Checkpoint
	err         error
}

func (s *recordingSink) SaveCheckpoint(ctx context.Context, projectID string, cp store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return s.err
}

func TestTrackerIsMonotonic(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("p1", sink, nil, zap.NewNop())
	ctx := context.Background()

	tr.Enter(ctx, StagePlan, "Planning")
	tr.Advance(ctx, 1, "")
	assert.Equal(t, 15, tr.Snapshot().Percent)

	tr.Enter(ctx, StageScenes, "Generating scenes")
	assert.Equal(t, 25, tr.Snapshot().Percent)
	tr.Advance(ctx, 0.5, "2 of 4 scenes")
	assert.Equal(t, 50, tr.Snapshot().Percent)

	// going backwards is ignored
	tr.Advance(ctx, 0.1, "")
	tr.Enter(ctx, StageAssets, "late asset")
	assert.Equal(t, 50, tr.Snapshot().Percent)

	tr.Enter(ctx, StageStitch, "Stitching")
	tr.Enter(ctx, StageAudio, "Adding music")
	tr.Enter(ctx, StageFinalize, "Saving")
	tr.Complete(ctx, "Done")

	last := -1
	for _, cp := range sink.checkpoints {
		assert.GreaterOrEqual(t, cp.Percent, last)
		last = cp.Percent
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, StageCompleted, tr.Snapshot().Stage)
}

func TestTrackerFailKeepsPercent(t *testing.T) {
	tr := NewTracker("p1", nil, nil, zap.NewNop())
	ctx := context.Background()
	tr.Enter(ctx, StageScenes, "Generating scenes")
	tr.SetScene(ctx, 1, models.SceneFailed)
	tr.Fail(ctx, errors.New("scene 1 failed"))

	snap := tr.Snapshot()
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Equal(t, 25, snap.Percent)
	assert.Equal(t, "scene 1 failed", snap.Error)
	assert.Equal(t, models.SceneFailed, snap.SceneStatuses[1])
}

func TestTrackerSnapshotIsACopy(t *testing.T) {
	tr := NewTracker("p1", nil, nil, zap.NewNop())
	tr.SetScene(context.Background(), 1, models.SceneGenerating)

	snap := tr.Snapshot()
	snap.SceneStatuses[1] = models.SceneCompleted
	assert.Equal(t, models.SceneGenerating, tr.Snapshot().SceneStatuses[1])
}

func TestTrackerSinkFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	tr := NewTracker("p1", sink, nil, zap.NewNop())
	tr.Enter(context.Background(), StageStitch, "Stitching")
	assert.Equal(t, 75, tr.Snapshot().Percent)
}

func TestTrackerCheckpointsAfterCancel(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker("p1", sink, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Fail(ctx, context.Canceled)
	require.Len(t, sink.checkpoints, 1)
	assert.Equal(t, "failed", sink.checkpoints[0].Stage)
}

func TestMemoryHub(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "p1")
	require.NoError(t, err)

	tr := NewTracker("p1", nil, hub, zap.NewNop())
	tr.Enter(ctx, StagePlan, "Planning")

	other := NewTracker("p2", nil, hub, zap.NewNop())
	other.Enter(ctx, StageScenes, "elsewhere")

	select {
	case snap := <-ch:
		assert.Equal(t, "p1", snap.ProjectID)
		assert.Equal(t, StagePlan, snap.Stage)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	// publishing after unsubscribe is harmless
	tr.Complete(ctx, "done")
}

func TestFromProject(t *testing.T) {
	p := &models.Project{
		ID:              "p1",
		Status:          models.ProjectFailed,
		PipelineStage:   "scenes",
		ProgressPercent: 40,
		PipelineError:   "boom",
		SceneStatuses:   datatypes.JSONMap{"1": "completed", "2": "failed", "x": "junk"},
	}
	snap := FromProject(p)
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Equal(t, 40, snap.Percent)
	assert.Equal(t, "boom", snap.Error)
	assert.Equal(t, map[int]models.SceneStatus{1: models.SceneCompleted, 2: models.SceneFailed}, snap.SceneStatuses)
	assert.True(t, snap.Stage.Terminal())
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "scenecraft:progress:abc", Channel("abc"))
}
