package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/pkg/config"
	"scenecraft/pkg/utils"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         ":memory:",
		LogLevel:    "silent",
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormRepository(db, zap.NewNop())
}

func createProject(t *testing.T, repo *GormRepository, owner string) *models.Project {
	t.Helper()
	p := &models.Project{OwnerID: owner, Prompt: "a lighthouse at dawn", DurationSeconds: 30}
	require.NoError(t, repo.CreateProject(context.Background(), p))
	require.NotEmpty(t, p.ID)
	return p
}

func strPtr(s string) *string { return &s }

func TestGetProjectChecksOwnership(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	got, err := repo.GetProject(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectDraft, got.Status)

	_, err = repo.GetProject(ctx, p.ID, "bob")
	assert.True(t, utils.Is(err, utils.KindNotFound))

	_, err = repo.GetProjectByID(ctx, "missing")
	assert.True(t, utils.Is(err, utils.KindNotFound))
}

func TestCreateAssetFillsGaps(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	var assets []*models.Asset
	for i := 0; i < 5; i++ {
		a := &models.Asset{ProjectID: strPtr(p.ID), Kind: models.AssetImage, StorageRef: "ref"}
		require.NoError(t, repo.CreateAsset(ctx, a, 5))
		assert.Equal(t, i+1, a.AssetNumber)
		assets = append(assets, a)
	}

	err := repo.CreateAsset(ctx, &models.Asset{ProjectID: strPtr(p.ID), Kind: models.AssetImage}, 5)
	assert.True(t, utils.Is(err, utils.KindValidation), "sixth asset is rejected")

	transient := &models.Asset{Kind: models.AssetImage, StorageRef: "transient/x.png"}
	require.NoError(t, repo.CreateAsset(ctx, transient, 5))
	assert.Equal(t, 0, transient.AssetNumber)

	require.NoError(t, repo.DeleteAsset(ctx, p.ID, assets[1].ID))
	listed, err := repo.ListAssets(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	for i, a := range listed {
		assert.Equal(t, i+1, a.AssetNumber, "asset numbers stay dense after deletion")
	}

	a := &models.Asset{ProjectID: strPtr(p.ID), Kind: models.AssetImage}
	require.NoError(t, repo.CreateAsset(ctx, a, 5))
	assert.Equal(t, 5, a.AssetNumber)
}

func TestDeleteAssetRemovesSelections(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	a1 := &models.Asset{ProjectID: strPtr(p.ID), Kind: models.AssetImage}
	a2 := &models.Asset{ProjectID: strPtr(p.ID), Kind: models.AssetImage}
	require.NoError(t, repo.CreateAsset(ctx, a1, 5))
	require.NoError(t, repo.CreateAsset(ctx, a2, 5))

	_, err := repo.ReplaceScenes(ctx, p.ID, []models.Scene{
		{Prompt: "one", SelectedAssetIDs: []string{a1.ID, a2.ID}},
	}, false)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteAsset(ctx, p.ID, a1.ID))
	scenes, err := repo.ListScenes(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, []string(scenes[0].SelectedAssetIDs))

	err = repo.DeleteAsset(ctx, p.ID, a1.ID)
	assert.True(t, utils.Is(err, utils.KindNotFound))
}

func TestReplaceScenesValidatesAssets(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")
	other := createProject(t, repo, "bob")

	foreign := &models.Asset{ProjectID: strPtr(other.ID), Kind: models.AssetImage}
	require.NoError(t, repo.CreateAsset(ctx, foreign, 5))

	_, err := repo.ReplaceScenes(ctx, p.ID, []models.Scene{{Prompt: "x", SelectedAssetIDs: []string{foreign.ID}}}, false)
	assert.True(t, utils.Is(err, utils.KindValidation))
}

func TestReplaceScenesKeepsUnchangedOutput(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	scenes, err := repo.ReplaceScenes(ctx, p.ID, []models.Scene{
		{Prompt: "one"}, {Prompt: "two", ExtendPrevious: true}, {Prompt: "three"},
	}, false)
	require.NoError(t, err)
	for _, s := range scenes {
		require.NoError(t, repo.SaveSceneResult(ctx, s.ID, "clip", "first", "last"))
	}

	scenes, err = repo.ReplaceScenes(ctx, p.ID, []models.Scene{
		{Prompt: "one (edited)"}, {Prompt: "two", ExtendPrevious: true}, {Prompt: "three"},
	}, false)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	assert.Equal(t, models.ScenePending, scenes[0].Status)
	assert.Equal(t, models.ScenePending, scenes[1].Status, "depends on an edited scene")
	assert.Equal(t, models.SceneCompleted, scenes[2].Status)
	assert.Equal(t, "clip", scenes[2].ClipRef)

	scenes, err = repo.ReplaceScenes(ctx, p.ID, []models.Scene{{Prompt: "only"}}, false)
	require.NoError(t, err)
	listed, err := repo.ListScenes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].SceneNumber)
}

func TestAddAndDeleteSceneResequences(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	for _, prompt := range []string{"a", "b", "c", "d"} {
		s := &models.Scene{ProjectID: p.ID, Prompt: prompt}
		require.NoError(t, repo.AddScene(ctx, s))
	}

	require.NoError(t, repo.DeleteScene(ctx, p.ID, 2))
	scenes, err := repo.ListScenes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	for i, s := range scenes {
		assert.Equal(t, i+1, s.SceneNumber)
	}
	assert.Equal(t, []string{"a", "c", "d"}, []string{scenes[0].Prompt, scenes[1].Prompt, scenes[2].Prompt})

	err = repo.DeleteScene(ctx, p.ID, 9)
	assert.True(t, utils.Is(err, utils.KindNotFound))

	err = repo.AddScene(ctx, &models.Scene{ProjectID: "missing", Prompt: "x"})
	assert.True(t, utils.Is(err, utils.KindNotFound))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	require.NoError(t, repo.StartRun(ctx, p.ID))
	require.NoError(t, repo.SaveCheckpoint(ctx, p.ID, Checkpoint{
		Stage:         "scenes",
		Percent:       40,
		Message:       "Generating scene 2 of 3",
		SceneStatuses: map[int]models.SceneStatus{1: models.SceneCompleted, 2: models.SceneGenerating},
	}))

	got, err := repo.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectGenerating, got.Status)
	assert.Equal(t, 40, got.ProgressPercent)
	assert.Equal(t, "completed", got.SceneStatuses["1"])
	require.NotNil(t, got.RunStartedAt)

	stale, err := repo.ListStaleRuns(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	require.NoError(t, repo.SetFinalVideo(ctx, p.ID, "projects/x/final/final.mp4"))
	require.NoError(t, repo.FinishRun(ctx, p.ID, models.ProjectCompleted, ""))

	got, err = repo.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectCompleted, got.Status)
	assert.Equal(t, "projects/x/final/final.mp4", got.FinalVideoRef)
	assert.NotNil(t, got.RunFinishedAt)

	stale, err = repo.ListStaleRuns(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestUpdateProjectConfig(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	p := createProject(t, repo, "alice")

	p.Parallel = true
	p.Continuous = true
	p.AspectRatio = "9:16"
	p.AssetPrompts = []string{"hero", "logo"}
	require.NoError(t, repo.UpdateProjectConfig(ctx, p))

	got, err := repo.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Parallel)
	assert.Equal(t, "9:16", got.AspectRatio)
	assert.Equal(t, []string{"hero", "logo"}, []string(got.AssetPrompts))

	require.NoError(t, repo.SetMusic(ctx, p.ID, "projects/x/music/a.mp3"))
	require.NoError(t, repo.SetScript(ctx, p.ID, "script"))
	assert.True(t, utils.Is(repo.SetMusic(ctx, "missing", "x"), utils.KindNotFound))
}
