package orchestrator

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"scenecraft/internal/continuity"
	"scenecraft/internal/generation"
	"scenecraft/internal/models"
	"scenecraft/internal/planner"
	"scenecraft/internal/scheduler"
	"scenecraft/internal/stitch"
	"scenecraft/pkg/utils"
)

// PlanScript plans the project's scenes and replaces its scene list
func (c *Coordinator) PlanScript(ctx context.Context, projectID string) (*planner.Script, error) {
	if err := c.acquire(projectID); err != nil {
		return nil, err
	}
	defer c.release(projectID)

	project, err := c.deps.Repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cfg, err := NewRunConfig(project, c.config)
	if err != nil {
		return nil, err
	}
	scenes, script, err := c.plan(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &planner.Script{Script: script.Script, Scenes: planner.FromModels(scenes)}, nil
}

// SingleSceneRequest generates one scene with explicit continuity inputs
type SingleSceneRequest struct {
	// SceneIndex is 0-based
	SceneIndex             int
	Prompt                 string
	DurationSeconds        float64
	ReferenceImages        []string
	PreviousSceneVideoURL  string
	PreviousSceneLastFrame string
	UseReferenceFrame      bool
	Continuous             bool
	VideoModelID           string
	Style                  models.Style
}

// SingleSceneResult holds the public URLs of a generated scene
type SingleSceneResult struct {
	SceneNumber   int
	VideoURL      string
	FirstFrameURL string
	LastFrameURL  string
	Attempts      int
}

// GenerateSingleScene generates one scene under the same deadline and retry
// policy as a pipeline run and stores it on the matching scene row
func (c *Coordinator) GenerateSingleScene(ctx context.Context, projectID string, req SingleSceneRequest) (*SingleSceneResult, error) {
	if req.SceneIndex < 0 {
		return nil, utils.NewValidationError("sceneIndex", "must not be negative")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, utils.NewValidationError("prompt", "required")
	}
	sceneNumber := req.SceneIndex + 1

	if err := c.acquireScene(projectID, sceneNumber); err != nil {
		return nil, err
	}
	defer c.releaseScene(projectID, sceneNumber)

	project, err := c.deps.Repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	style := project.Style
	mergeStyle(&style, req.Style)
	if style.AspectRatio == "" {
		style.AspectRatio = "16:9"
	}
	if !validAspectRatio(style.AspectRatio) {
		return nil, utils.NewValidationError("aspectRatio", "unsupported aspect ratio "+style.AspectRatio)
	}

	model := firstNonEmpty(req.VideoModelID, project.VideoModelID, c.config.DefaultVideoModel)
	if model == "" {
		return nil, utils.NewValidationError("videoModelId", "no video model configured")
	}

	inputs := continuity.Inputs{Kind: continuity.InputNone}
	switch {
	case sceneNumber == 1:
	case req.PreviousSceneVideoURL != "":
		inputs = continuity.Inputs{Kind: continuity.InputClip, PreviousClipRef: req.PreviousSceneVideoURL}
	case req.Continuous && req.PreviousSceneLastFrame != "":
		inputs = continuity.Inputs{Kind: continuity.InputFrame, PreviousLastFrameRef: req.PreviousSceneLastFrame}
	}

	duration := req.DurationSeconds
	if duration <= 0 && c.config.MaxSceneSeconds > 0 {
		duration = float64(c.config.MaxSceneSeconds)
	}

	scenes, err := c.deps.Repo.ListScenes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var sceneID string
	for _, s := range scenes {
		if s.SceneNumber == sceneNumber {
			sceneID = s.ID
			break
		}
	}

	runScene := func(ctx context.Context, node continuity.Node, _ map[int]scheduler.Output) (scheduler.Output, error) {
		res, err := c.deps.Scenes.GenerateScene(ctx, generation.SceneRequest{
			ProjectID:         projectID,
			SceneNumber:       sceneNumber,
			SceneID:           sceneID,
			Prompt:            req.Prompt,
			ModelID:           model,
			DurationSeconds:   duration,
			Style:             style,
			ReferenceRefs:     req.ReferenceImages,
			Continuity:        inputs,
			UseReferenceFrame: req.UseReferenceFrame,
		})
		if err != nil {
			return scheduler.Output{}, err
		}
		return scheduler.Output{ClipRef: res.ClipRef, FirstFrameRef: res.FirstFrameRef, LastFrameRef: res.LastFrameRef}, nil
	}

	controller := scheduler.New(scheduler.Config{
		Concurrency:   1,
		CallTimeout:   c.config.CallTimeout,
		RetryAttempts: c.config.RetryAttempts,
	}, nil, c.logger)
	graph := &continuity.Graph{Nodes: []continuity.Node{{SceneNumber: sceneNumber}}}

	results, err := controller.RunScenes(ctx, graph, scheduler.Sequential, nil, runScene, nil)
	if err != nil {
		return nil, err
	}
	res := results[0]
	if res.Status != models.SceneCompleted {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, utils.Errorf(utils.KindInternal, "orchestrator.GenerateSingleScene", "scene %d %s", sceneNumber, res.Status)
	}

	c.storeSingleScene(context.WithoutCancel(ctx), projectID, sceneNumber, req, res.Output)

	return &SingleSceneResult{
		SceneNumber:   sceneNumber,
		VideoURL:      generation.URLFor(c.deps.Store, res.Output.ClipRef),
		FirstFrameURL: generation.URLFor(c.deps.Store, res.Output.FirstFrameRef),
		LastFrameURL:  generation.URLFor(c.deps.Store, res.Output.LastFrameRef),
		Attempts:      res.Attempts,
	}, nil
}

// storeSingleScene records the output on the scene row, appending the row
// when the scene is the next one. Failures are warnings; the clip is stored.
func (c *Coordinator) storeSingleScene(ctx context.Context, projectID string, sceneNumber int, req SingleSceneRequest, out scheduler.Output) {
	warn := func(err error) {
		c.logger.Warn("Scene generated but not recorded",
			zap.String("project_id", projectID),
			zap.Int("scene", sceneNumber),
			zap.Error(utils.E(utils.KindPersistenceWarning, "orchestrator.storeSingleScene", err)))
	}

	scenes, err := c.deps.Repo.ListScenes(ctx, projectID)
	if err != nil {
		warn(err)
		return
	}

	var sceneID string
	for _, s := range scenes {
		if s.SceneNumber == sceneNumber {
			sceneID = s.ID
			break
		}
	}
	if sceneID == "" {
		if sceneNumber != len(scenes)+1 {
			c.logger.Debug("No scene row to record single scene on",
				zap.String("project_id", projectID), zap.Int("scene", sceneNumber))
			return
		}
		scene := &models.Scene{ProjectID: projectID, Prompt: req.Prompt, DurationSeconds: req.DurationSeconds}
		if err := c.deps.Repo.AddScene(ctx, scene); err != nil {
			warn(err)
			return
		}
		sceneID = scene.ID
	}

	if err := c.deps.Repo.SaveSceneResult(ctx, sceneID, out.ClipRef, out.FirstFrameRef, out.LastFrameRef); err != nil {
		warn(err)
	}
}

// SceneSpec is one scene of a generate-all request
type SceneSpec struct {
	// SceneIndex is 0-based
	SceneIndex       int
	Prompt           string
	DurationSeconds  float64
	SelectedAssetIDs []string
	ExtendPrevious   bool
}

// GenerateAllRequest replaces the scene list and runs the whole pipeline
type GenerateAllRequest struct {
	Scenes            []SceneSpec
	Parallel          bool
	Continuous        bool
	UseReferenceFrame bool
	VideoModelID      string
	Style             models.Style
}

// FramePair holds a scene's boundary frame URLs
type FramePair struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// GenerateAllResult is a finished generate-all run
type GenerateAllResult struct {
	FinalVideoURL string
	SceneURLs     []string
	FrameURLs     []FramePair
	Run           *RunResult
}

// GenerateAll stores the requested scenes and flags, then runs the pipeline
// synchronously. Scenes whose inputs did not change keep their clips.
func (c *Coordinator) GenerateAll(ctx context.Context, projectID string, req GenerateAllRequest) (*GenerateAllResult, error) {
	desired, err := scenesFromSpecs(projectID, req.Scenes)
	if err != nil {
		return nil, err
	}

	if err := c.acquire(projectID); err != nil {
		return nil, err
	}
	defer c.release(projectID)

	project, err := c.deps.Repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project.Parallel = req.Parallel
	project.Continuous = req.Continuous
	project.UseReferenceFrame = req.UseReferenceFrame
	if req.VideoModelID != "" {
		project.VideoModelID = req.VideoModelID
	}
	mergeStyle(&project.Style, req.Style)
	if _, err := NewRunConfig(project, c.config); err != nil {
		return nil, err
	}

	if err := c.deps.Repo.UpdateProjectConfig(ctx, project); err != nil {
		return nil, err
	}
	if _, err := c.deps.Repo.ReplaceScenes(ctx, projectID, desired, req.Continuous); err != nil {
		return nil, err
	}
	if err := c.ResetCancel(ctx, projectID); err != nil {
		c.logger.Warn("Failed to clear cancel flag", zap.String("project_id", projectID), zap.Error(err))
	}

	result, err := c.runPipeline(ctx, projectID)
	if err != nil {
		return &GenerateAllResult{Run: result}, err
	}

	out := &GenerateAllResult{
		FinalVideoURL: result.FinalVideoURL,
		SceneURLs:     make([]string, 0, len(result.Scenes)),
		FrameURLs:     make([]FramePair, 0, len(result.Scenes)),
		Run:           result,
	}
	for _, s := range result.Scenes {
		out.SceneURLs = append(out.SceneURLs, s.ClipURL)
		out.FrameURLs = append(out.FrameURLs, FramePair{First: s.FirstFrameURL, Last: s.LastFrameURL})
	}
	return out, nil
}

// scenesFromSpecs orders the specs by index and checks they cover 0..N-1
func scenesFromSpecs(projectID string, specs []SceneSpec) ([]models.Scene, error) {
	if len(specs) == 0 {
		return nil, utils.NewValidationError("scenes", "at least one scene is required")
	}
	sorted := make([]SceneSpec, len(specs))
	copy(sorted, specs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SceneIndex < sorted[j].SceneIndex })

	scenes := make([]models.Scene, len(sorted))
	for i, spec := range sorted {
		if spec.SceneIndex != i {
			return nil, utils.NewValidationError("scenes", "sceneIndex values must be 0..N-1 without gaps")
		}
		if strings.TrimSpace(spec.Prompt) == "" {
			return nil, utils.NewValidationError("scenes", "every scene needs a prompt")
		}
		scenes[i] = models.Scene{
			ProjectID:        projectID,
			SceneNumber:      i + 1,
			Prompt:           spec.Prompt,
			DurationSeconds:  spec.DurationSeconds,
			SelectedAssetIDs: spec.SelectedAssetIDs,
			ExtendPrevious:   spec.ExtendPrevious && i > 0,
		}
	}
	return scenes, nil
}

// RestitchResult describes a re-stitched final video
type RestitchResult struct {
	VideoURL   string
	SceneCount int
	HasMusic   bool
}

// Restitch rebuilds the final video from the stored clips without
// regenerating anything. musicURL overrides the project's music track.
func (c *Coordinator) Restitch(ctx context.Context, projectID, musicURL string) (*RestitchResult, error) {
	if err := c.acquire(projectID); err != nil {
		return nil, err
	}
	defer c.release(projectID)

	project, err := c.deps.Repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scenes, err := c.deps.Repo.ListScenes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, utils.NewValidationError("scenes", "project has no scenes to stitch")
	}

	refs := make([]string, len(scenes))
	for i, s := range scenes {
		if !s.HasClip() {
			return nil, utils.Errorf(utils.KindValidation, "orchestrator.Restitch", "scene %d has no completed clip", s.SceneNumber)
		}
		refs[i] = s.ClipRef
	}

	volume := project.MusicVolume
	if volume <= 0 {
		volume = c.config.MusicVolume
	}
	res, err := c.deps.Stitcher.Stitch(ctx, stitch.Request{
		ProjectID: projectID,
		ClipRefs:  refs,
		AudioRef:  firstNonEmpty(musicURL, project.MusicRef),
		Volume:    volume,
	})
	if err != nil {
		return nil, err
	}

	if err := c.deps.Repo.SetFinalVideo(context.WithoutCancel(ctx), projectID, res.FinalRef); err != nil {
		c.logger.Warn("Final video stored but not recorded",
			zap.String("project_id", projectID),
			zap.Error(utils.E(utils.KindPersistenceWarning, "orchestrator.Restitch", err)))
	}

	return &RestitchResult{VideoURL: res.URL, SceneCount: res.SceneCount, HasMusic: res.HasMusic}, nil
}

// mergeStyle overwrites dst with the non-empty fields of src
func mergeStyle(dst *models.Style, src models.Style) {
	if src.Mood != "" {
		dst.Mood = src.Mood
	}
	if src.AspectRatio != "" {
		dst.AspectRatio = src.AspectRatio
	}
	if src.ColorPalette != "" {
		dst.ColorPalette = src.ColorPalette
	}
	if src.Pacing != "" {
		dst.Pacing = src.Pacing
	}
	if src.VisualStyle != "" {
		dst.VisualStyle = src.VisualStyle
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
