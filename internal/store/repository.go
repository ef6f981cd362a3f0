package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scenecraft/internal/models"
	"scenecraft/pkg/utils"
)

// Checkpoint is the persisted view of a running pipeline
type Checkpoint struct {
	Stage         string
	Percent       int
	Message       string
	SceneStatuses map[int]models.SceneStatus
}

// Repository is the relational store used by the API and the pipeline
type Repository interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id, ownerID string) (*models.Project, error)
	GetProjectByID(ctx context.Context, id string) (*models.Project, error)
	UpdateProjectConfig(ctx context.Context, project *models.Project) error
	SetMusic(ctx context.Context, projectID, musicRef string) error
	SetScript(ctx context.Context, projectID, script string) error

	ListScenes(ctx context.Context, projectID string) ([]models.Scene, error)
	ReplaceScenes(ctx context.Context, projectID string, scenes []models.Scene, continuous bool) ([]models.Scene, error)
	AddScene(ctx context.Context, scene *models.Scene) error
	DeleteScene(ctx context.Context, projectID string, sceneNumber int) error
	MarkSceneGenerating(ctx context.Context, sceneID string) error
	SaveSceneResult(ctx context.Context, sceneID, clipRef, firstFrameRef, lastFrameRef string) error
	SaveSceneFailure(ctx context.Context, sceneID string, status models.SceneStatus, message string) error

	ListAssets(ctx context.Context, projectID string) ([]models.Asset, error)
	CreateAsset(ctx context.Context, asset *models.Asset, maxAssets int) error
	DeleteAsset(ctx context.Context, projectID, assetID string) error

	StartRun(ctx context.Context, projectID string) error
	SaveCheckpoint(ctx context.Context, projectID string, cp Checkpoint) error
	FinishRun(ctx context.Context, projectID string, status models.ProjectStatus, errMsg string) error
	SetFinalVideo(ctx context.Context, projectID, ref string) error
	ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]models.Project, error)
}

// GormRepository implements Repository on gorm
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository creates a repository backed by db
func NewGormRepository(db *gorm.DB, logger *zap.Logger) *GormRepository {
	return &GormRepository{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

func notFound(op, what, id string) error {
	return utils.Errorf(utils.KindNotFound, op, "%s %s not found", what, id)
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return utils.E(utils.KindCancelled, op, err)
	}
	return utils.E(utils.KindInternal, op, err)
}

// CreateProject inserts a new project in draft status
func (r *GormRepository) CreateProject(ctx context.Context, project *models.Project) error {
	project.Status = models.ProjectDraft
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return storeErr("store.CreateProject", err)
	}
	return nil
}

// GetProject loads a project owned by ownerID. Projects owned by someone
// else are reported as not found.
func (r *GormRepository) GetProject(ctx context.Context, id, ownerID string) (*models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("store.GetProject", "project", id)
	}
	if err != nil {
		return nil, storeErr("store.GetProject", err)
	}
	return &project, nil
}

// GetProjectByID loads a project without an ownership check
func (r *GormRepository) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("store.GetProjectByID", "project", id)
	}
	if err != nil {
		return nil, storeErr("store.GetProjectByID", err)
	}
	return &project, nil
}

// UpdateProjectConfig writes the user-editable configuration columns
func (r *GormRepository) UpdateProjectConfig(ctx context.Context, p *models.Project) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"prompt":              p.Prompt,
		"category":            p.Category,
		"mood":                p.Mood,
		"aspect_ratio":        p.AspectRatio,
		"color_palette":       p.ColorPalette,
		"pacing":              p.Pacing,
		"visual_style":        p.VisualStyle,
		"duration_seconds":    p.DurationSeconds,
		"video_model_id":      p.VideoModelID,
		"image_model_id":      p.ImageModelID,
		"use_reference_frame": p.UseReferenceFrame,
		"continuous":          p.Continuous,
		"parallel":            p.Parallel,
		"asset_prompts":       p.AssetPrompts,
		"music_volume":        p.MusicVolume,
	})
	if res.Error != nil {
		return storeErr("store.UpdateProjectConfig", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("store.UpdateProjectConfig", "project", p.ID)
	}
	return nil
}

// SetMusic records the project's music track
func (r *GormRepository) SetMusic(ctx context.Context, projectID, musicRef string) error {
	return r.updateProject(ctx, "store.SetMusic", projectID, map[string]interface{}{"music_ref": musicRef})
}

// SetScript records the planned script text
func (r *GormRepository) SetScript(ctx context.Context, projectID, script string) error {
	return r.updateProject(ctx, "store.SetScript", projectID, map[string]interface{}{"script": script})
}

func (r *GormRepository) updateProject(ctx context.Context, op, projectID string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(fields)
	if res.Error != nil {
		return storeErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(op, "project", projectID)
	}
	return nil
}

// ListScenes returns a project's scenes ordered by scene number
func (r *GormRepository) ListScenes(ctx context.Context, projectID string) ([]models.Scene, error) {
	var scenes []models.Scene
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("scene_number ASC").Find(&scenes).Error
	if err != nil {
		return nil, storeErr("store.ListScenes", err)
	}
	return scenes, nil
}

// ReplaceScenes makes the stored scene list match scenes, keeping generated
// output for unchanged scenes (see MergeScenes)
func (r *GormRepository) ReplaceScenes(ctx context.Context, projectID string, scenes []models.Scene, continuous bool) ([]models.Scene, error) {
	var merged []models.Scene
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.checkSelectedAssets(tx, projectID, scenes); err != nil {
			return err
		}

		var existing []models.Scene
		if err := tx.Where("project_id = ?", projectID).Find(&existing).Error; err != nil {
			return err
		}

		merged = MergeScenes(existing, scenes, continuous)
		keep := make(map[string]bool, len(merged))
		for i := range merged {
			merged[i].ProjectID = projectID
			if merged[i].ID != "" {
				keep[merged[i].ID] = true
			}
		}

		for _, old := range existing {
			if !keep[old.ID] {
				if err := tx.Delete(&models.Scene{}, "id = ?", old.ID).Error; err != nil {
					return err
				}
			}
		}

		for i := range merged {
			if err := tx.Save(&merged[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if utils.KindOf(err) == utils.KindValidation {
			return nil, err
		}
		return nil, storeErr("store.ReplaceScenes", err)
	}
	return merged, nil
}

// AddScene appends a scene at the next scene number
func (r *GormRepository) AddScene(ctx context.Context, scene *models.Scene) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, scene.ProjectID); err != nil {
			return err
		}
		if err := r.checkSelectedAssets(tx, scene.ProjectID, []models.Scene{*scene}); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Scene{}).Where("project_id = ?", scene.ProjectID).Count(&count).Error; err != nil {
			return err
		}
		scene.SceneNumber = int(count) + 1
		scene.Status = models.ScenePending
		return tx.Create(scene).Error
	})
	if err != nil {
		if k := utils.KindOf(err); k == utils.KindValidation || k == utils.KindNotFound {
			return err
		}
		return storeErr("store.AddScene", err)
	}
	return nil
}

// DeleteScene removes a scene and closes the gap so numbers stay 1..N
func (r *GormRepository) DeleteScene(ctx context.Context, projectID string, sceneNumber int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, projectID); err != nil {
			return err
		}

		res := tx.Where("project_id = ? AND scene_number = ?", projectID, sceneNumber).Delete(&models.Scene{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("store.DeleteScene", "scene", strconv.Itoa(sceneNumber))
		}

		return tx.Model(&models.Scene{}).
			Where("project_id = ? AND scene_number > ?", projectID, sceneNumber).
			UpdateColumn("scene_number", gorm.Expr("scene_number - 1")).Error
	})
	if err != nil {
		if utils.KindOf(err) == utils.KindNotFound {
			return err
		}
		return storeErr("store.DeleteScene", err)
	}
	return nil
}

// MarkSceneGenerating flags a scene as in flight
func (r *GormRepository) MarkSceneGenerating(ctx context.Context, sceneID string) error {
	return r.updateScene(ctx, "store.MarkSceneGenerating", sceneID, map[string]interface{}{
		"status": models.SceneGenerating,
		"error":  "",
	})
}

// SaveSceneResult stores the generated refs and completes the scene
func (r *GormRepository) SaveSceneResult(ctx context.Context, sceneID, clipRef, firstFrameRef, lastFrameRef string) error {
	return r.updateScene(ctx, "store.SaveSceneResult", sceneID, map[string]interface{}{
		"clip_ref":        clipRef,
		"first_frame_ref": firstFrameRef,
		"last_frame_ref":  lastFrameRef,
		"status":          models.SceneCompleted,
		"error":           "",
	})
}

// SaveSceneFailure records a failed or skipped scene
func (r *GormRepository) SaveSceneFailure(ctx context.Context, sceneID string, status models.SceneStatus, message string) error {
	return r.updateScene(ctx, "store.SaveSceneFailure", sceneID, map[string]interface{}{
		"status": status,
		"error":  message,
	})
}

func (r *GormRepository) updateScene(ctx context.Context, op, sceneID string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Scene{}).Where("id = ?", sceneID).Updates(fields)
	if res.Error != nil {
		return storeErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(op, "scene", sceneID)
	}
	return nil
}

// ListAssets returns a project's assets ordered by asset number
func (r *GormRepository) ListAssets(ctx context.Context, projectID string) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("asset_number ASC").Find(&assets).Error
	if err != nil {
		return nil, storeErr("store.ListAssets", err)
	}
	return assets, nil
}

// CreateAsset inserts an asset. Project assets get the lowest free ordinal
// in 1..maxAssets; a full project is a validation error.
func (r *GormRepository) CreateAsset(ctx context.Context, asset *models.Asset, maxAssets int) error {
	if asset.ProjectID == nil {
		asset.AssetNumber = 0
		if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
			return storeErr("store.CreateAsset", err)
		}
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, *asset.ProjectID); err != nil {
			return err
		}

		var used []int
		if err := tx.Model(&models.Asset{}).Where("project_id = ?", *asset.ProjectID).
			Pluck("asset_number", &used).Error; err != nil {
			return err
		}

		n, ok := NextFreeOrdinal(used, maxAssets)
		if !ok {
			return utils.Errorf(utils.KindValidation, "store.CreateAsset",
				"project already has the maximum of %d assets", maxAssets)
		}
		asset.AssetNumber = n
		return tx.Create(asset).Error
	})
	if err != nil {
		if k := utils.KindOf(err); k == utils.KindValidation || k == utils.KindNotFound {
			return err
		}
		return storeErr("store.CreateAsset", err)
	}
	return nil
}

// DeleteAsset removes an asset, renumbers the rest densely and drops the
// asset from every scene selection
func (r *GormRepository) DeleteAsset(ctx context.Context, projectID, assetID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, projectID); err != nil {
			return err
		}

		res := tx.Where("id = ? AND project_id = ?", assetID, projectID).Delete(&models.Asset{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("store.DeleteAsset", "asset", assetID)
		}

		var remaining []models.Asset
		if err := tx.Where("project_id = ?", projectID).Find(&remaining).Error; err != nil {
			return err
		}
		changes := Renumber(remaining)
		// ascending targets never collide with an occupied number
		ids := make([]string, 0, len(changes))
		for id := range changes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return changes[ids[i]] < changes[ids[j]] })
		for _, id := range ids {
			if err := tx.Model(&models.Asset{}).Where("id = ?", id).
				UpdateColumn("asset_number", changes[id]).Error; err != nil {
				return err
			}
		}

		var scenes []models.Scene
		if err := tx.Where("project_id = ?", projectID).Find(&scenes).Error; err != nil {
			return err
		}
		for _, s := range scenes {
			filtered := make(datatypes.JSONSlice[string], 0, len(s.SelectedAssetIDs))
			for _, id := range s.SelectedAssetIDs {
				if id != assetID {
					filtered = append(filtered, id)
				}
			}
			if len(filtered) != len(s.SelectedAssetIDs) {
				if err := tx.Model(&models.Scene{}).Where("id = ?", s.ID).
					UpdateColumn("selected_asset_ids", filtered).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if utils.KindOf(err) == utils.KindNotFound {
			return err
		}
		return storeErr("store.DeleteAsset", err)
	}

	r.logger.Debug("Deleted asset", zap.String("project_id", projectID), zap.String("asset_id", assetID))
	return nil
}

// StartRun flips a project to generating and resets the checkpoint columns
func (r *GormRepository) StartRun(ctx context.Context, projectID string) error {
	now := time.Now().UTC()
	return r.updateProject(ctx, "store.StartRun", projectID, map[string]interface{}{
		"status":           models.ProjectGenerating,
		"pipeline_stage":   "",
		"progress_percent": 0,
		"progress_message": "",
		"pipeline_error":   "",
		"scene_statuses":   datatypes.JSONMap{},
		"run_started_at":   &now,
		"run_finished_at":  nil,
	})
}

// SaveCheckpoint writes only the checkpoint columns
func (r *GormRepository) SaveCheckpoint(ctx context.Context, projectID string, cp Checkpoint) error {
	statuses := make(datatypes.JSONMap, len(cp.SceneStatuses))
	for n, s := range cp.SceneStatuses {
		statuses[strconv.Itoa(n)] = string(s)
	}
	return r.updateProject(ctx, "store.SaveCheckpoint", projectID, map[string]interface{}{
		"pipeline_stage":   cp.Stage,
		"progress_percent": cp.Percent,
		"progress_message": cp.Message,
		"scene_statuses":   statuses,
	})
}

// FinishRun records the terminal status of a run
func (r *GormRepository) FinishRun(ctx context.Context, projectID string, status models.ProjectStatus, errMsg string) error {
	now := time.Now().UTC()
	return r.updateProject(ctx, "store.FinishRun", projectID, map[string]interface{}{
		"status":          status,
		"pipeline_error":  errMsg,
		"run_finished_at": &now,
	})
}

// SetFinalVideo records the final video reference
func (r *GormRepository) SetFinalVideo(ctx context.Context, projectID, ref string) error {
	return r.updateProject(ctx, "store.SetFinalVideo", projectID, map[string]interface{}{"final_video_ref": ref})
}

// ListStaleRuns returns generating projects whose run started before the cutoff
func (r *GormRepository) ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.WithContext(ctx).
		Where("status = ? AND run_started_at < ?", models.ProjectGenerating, startedBefore.UTC()).
		Find(&projects).Error
	if err != nil {
		return nil, storeErr("store.ListStaleRuns", err)
	}
	return projects, nil
}

// checkSelectedAssets verifies every selected asset id belongs to the project
func (r *GormRepository) checkSelectedAssets(tx *gorm.DB, projectID string, scenes []models.Scene) error {
	var ids []string
	if err := tx.Model(&models.Asset{}).Where("project_id = ?", projectID).Pluck("id", &ids).Error; err != nil {
		return err
	}
	owned := make(map[string]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	for _, s := range scenes {
		for _, id := range s.SelectedAssetIDs {
			if !owned[id] {
				return utils.Errorf(utils.KindValidation, "store.checkSelectedAssets",
					"scene %d selects asset %s which does not belong to the project", s.SceneNumber, id)
			}
		}
	}
	return nil
}

// lockProject takes a row lock on the project so ordinal allocation is serialized
func lockProject(tx *gorm.DB, projectID string) error {
	var project models.Project
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("store.lockProject", "project", projectID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	return nil
}
