package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scenecraft/internal/continuity"
	"scenecraft/internal/generation"
	"scenecraft/internal/models"
	"scenecraft/internal/planner"
	"scenecraft/internal/progress"
	"scenecraft/internal/scheduler"
	"scenecraft/internal/stitch"
	"scenecraft/internal/store"
	"scenecraft/pkg/stats"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// SceneGenerator produces one stored scene clip
type SceneGenerator interface {
	GenerateScene(ctx context.Context, req generation.SceneRequest) (*generation.SceneResult, error)
}

// AssetGenerator produces one stored reference image
type AssetGenerator interface {
	GenerateAsset(ctx context.Context, req generation.AssetRequest) (*generation.AssetResult, error)
}

// Stitcher joins clips into the published final video
type Stitcher interface {
	Concat(ctx context.Context, projectID string, clipRefs []string) (*stitch.Session, error)
	MergeAudio(ctx context.Context, sess *stitch.Session, audioRef string, volume float64) error
	Publish(ctx context.Context, sess *stitch.Session) (*stitch.Result, error)
	Close(sess *stitch.Session)
	Stitch(ctx context.Context, req stitch.Request) (*stitch.Result, error)
}

// Config holds the coordinator limits
type Config struct {
	SceneConcurrency  int
	AssetConcurrency  int
	CallTimeout       time.Duration
	RetryAttempts     int
	TotalTimeout      time.Duration
	MaxAssets         int
	MaxSceneSeconds   int
	MusicVolume       float64
	DefaultVideoModel string
	DefaultImageModel string
	// CancelPoll is how often a running pipeline checks the cancel registry
	CancelPoll time.Duration
}

// Dependencies are the collaborators of a coordinator. Publisher and
// Cancels may be nil.
type Dependencies struct {
	Repo      store.Repository
	Planner   planner.Planner
	Assets    AssetGenerator
	Scenes    SceneGenerator
	Stitcher  Stitcher
	Store     storage.Storage
	Publisher progress.Publisher
	Cancels   CancelRegistry
}

// SceneOutcome is the final state of one scene in a run
type SceneOutcome struct {
	SceneNumber   int                `json:"sceneNumber"`
	Status        models.SceneStatus `json:"status"`
	ClipURL       string             `json:"clipUrl,omitempty"`
	FirstFrameURL string             `json:"firstFrameUrl,omitempty"`
	LastFrameURL  string             `json:"lastFrameUrl,omitempty"`
	Attempts      int                `json:"attempts"`
	Reused        bool               `json:"reused,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// StageTiming records how long a stage took
type StageTiming struct {
	Stage    progress.Stage `json:"stage"`
	Duration time.Duration  `json:"duration"`
}

// RunResult contains the results of one pipeline run
type RunResult struct {
	ProjectID     string                  `json:"projectId"`
	Status        models.ProjectStatus    `json:"status"`
	FinalVideoRef string                  `json:"finalVideoRef,omitempty"`
	FinalVideoURL string                  `json:"finalVideoUrl,omitempty"`
	HasMusic      bool                    `json:"hasMusic"`
	Error         string                  `json:"error,omitempty"`
	Scenes        []SceneOutcome          `json:"scenes"`
	Stages        []StageTiming           `json:"stages"`
	StartTime     time.Time               `json:"startTime"`
	EndTime       time.Time               `json:"endTime"`
	Duration      time.Duration           `json:"duration"`
	Statistics    *stats.CollectorSummary `json:"statistics,omitempty"`
}

// Coordinator drives a project through plan, assets, scenes, stitch, audio
// and finalize
type Coordinator struct {
	deps   Dependencies
	config Config
	logger *zap.Logger

	runningMutex sync.Mutex
	running      map[string]bool
	sceneBusy    map[string]bool
	sceneCount   map[string]int
}

// NewCoordinator creates a pipeline coordinator
func NewCoordinator(deps Dependencies, config Config, logger *zap.Logger) *Coordinator {
	if config.AssetConcurrency <= 0 || config.AssetConcurrency > 5 {
		config.AssetConcurrency = 5
	}
	if config.SceneConcurrency <= 0 {
		config.SceneConcurrency = 3
	}
	if config.TotalTimeout <= 0 {
		config.TotalTimeout = 10 * time.Minute
	}
	if config.CancelPoll <= 0 {
		config.CancelPoll = time.Second
	}
	if deps.Cancels == nil {
		deps.Cancels = NewMemoryCancelRegistry(time.Hour)
	}
	return &Coordinator{
		deps:       deps,
		config:     config,
		logger:     logger.With(zap.String("component", "coordinator")),
		running:    make(map[string]bool),
		sceneBusy:  make(map[string]bool),
		sceneCount: make(map[string]int),
	}
}

// acquire marks projectID as running a pipeline in this process
func (c *Coordinator) acquire(projectID string) error {
	c.runningMutex.Lock()
	defer c.runningMutex.Unlock()
	if c.running[projectID] || c.sceneCount[projectID] > 0 {
		return utils.Errorf(utils.KindConflict, "orchestrator.acquire", "a generation is already running for project %s", projectID)
	}
	c.running[projectID] = true
	return nil
}

func (c *Coordinator) release(projectID string) {
	c.runningMutex.Lock()
	delete(c.running, projectID)
	c.runningMutex.Unlock()
}

// acquireScene marks one scene as generating outside a pipeline run
func (c *Coordinator) acquireScene(projectID string, sceneNumber int) error {
	key := fmt.Sprintf("%s/%d", projectID, sceneNumber)
	c.runningMutex.Lock()
	defer c.runningMutex.Unlock()
	if c.running[projectID] || c.sceneBusy[key] {
		return utils.Errorf(utils.KindConflict, "orchestrator.acquireScene", "scene %d of project %s is already generating", sceneNumber, projectID)
	}
	c.sceneBusy[key] = true
	c.sceneCount[projectID]++
	return nil
}

func (c *Coordinator) releaseScene(projectID string, sceneNumber int) {
	key := fmt.Sprintf("%s/%d", projectID, sceneNumber)
	c.runningMutex.Lock()
	delete(c.sceneBusy, key)
	if c.sceneCount[projectID]--; c.sceneCount[projectID] <= 0 {
		delete(c.sceneCount, projectID)
	}
	c.runningMutex.Unlock()
}

// IsRunning reports whether this process is running a pipeline for projectID
func (c *Coordinator) IsRunning(projectID string) bool {
	c.runningMutex.Lock()
	defer c.runningMutex.Unlock()
	return c.running[projectID]
}

// Cancel flags a project's run for cancellation. The run stops at its next
// stage boundary or scene dispatch.
func (c *Coordinator) Cancel(ctx context.Context, projectID string) error {
	return c.deps.Cancels.Cancel(ctx, projectID)
}

// ResetCancel clears a stale cancel flag before a new run is dispatched
func (c *Coordinator) ResetCancel(ctx context.Context, projectID string) error {
	return c.deps.Cancels.Clear(ctx, projectID)
}

// run is the state shared by the stages of one pipeline run
type run struct {
	cfg       RunConfig
	tracker   *progress.Tracker
	collector *stats.Collector
	scenes    []models.Scene
	results   []scheduler.Result
	session   *stitch.Session
	final     *stitch.Result
}

type stageFunc func(ctx context.Context, r *run) error

// RunPipeline executes the whole pipeline for a project. It returns a result
// for every run that started, including failed ones.
func (c *Coordinator) RunPipeline(ctx context.Context, projectID string) (*RunResult, error) {
	if err := c.acquire(projectID); err != nil {
		return nil, err
	}
	defer c.release(projectID)
	return c.runPipeline(ctx, projectID)
}

// runPipeline runs the stages; the caller holds the project
func (c *Coordinator) runPipeline(ctx context.Context, projectID string) (*RunResult, error) {
	project, err := c.deps.Repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{ProjectID: projectID, StartTime: time.Now()}
	logger := c.logger.With(zap.String("project_id", projectID))

	if err := c.deps.Repo.StartRun(ctx, projectID); err != nil {
		return nil, err
	}

	r := &run{
		tracker:   progress.NewTracker(projectID, c.deps.Repo, c.deps.Publisher, c.logger),
		collector: stats.NewCollector(),
	}

	runCtx, cancel := context.WithTimeout(ctx, c.config.TotalTimeout)
	defer cancel()
	go c.watchCancel(runCtx, cancel, projectID)

	logger.Info("Starting pipeline run",
		zap.Bool("parallel", project.Parallel),
		zap.Bool("continuous", project.Continuous),
		zap.Duration("total_timeout", c.config.TotalTimeout))

	err = c.execute(runCtx, project, r, result)
	c.finish(ctx, r, result, err)

	if err != nil {
		logger.Error("Pipeline run failed",
			zap.String("kind", string(utils.KindOf(err))),
			zap.Error(err),
			zap.Duration("duration", result.Duration))
	} else {
		logger.Info("Pipeline run completed",
			zap.String("final_video", result.FinalVideoRef),
			zap.Duration("duration", result.Duration))
	}
	return result, err
}

// execute validates the run config and runs every stage in order
func (c *Coordinator) execute(ctx context.Context, project *models.Project, r *run, result *RunResult) error {
	cfg, err := NewRunConfig(project, c.config)
	if err != nil {
		return err
	}
	r.cfg = cfg

	stages := []struct {
		stage progress.Stage
		label string
		fn    stageFunc
	}{
		{progress.StagePlan, "Planning scenes", c.planStage},
		{progress.StageAssets, "Generating reference assets", c.assetStage},
		{progress.StageScenes, "Generating scenes", c.sceneStage},
		{progress.StageStitch, "Stitching scenes", c.stitchStage},
		{progress.StageAudio, "Adding music", c.audioStage},
		{progress.StageFinalize, "Saving final video", c.finalizeStage},
	}

	defer func() {
		if r.session != nil {
			c.deps.Stitcher.Close(r.session)
		}
	}()

	for _, s := range stages {
		if err := c.checkCancelled(ctx, project.ID); err != nil {
			return err
		}
		r.tracker.Enter(ctx, s.stage, s.label)
		start := time.Now()
		err := s.fn(ctx, r)
		result.Stages = append(result.Stages, StageTiming{Stage: s.stage, Duration: time.Since(start)})
		if err != nil {
			if ctxErr := runContextError(ctx); ctxErr != nil && utils.KindOf(err) == utils.KindCancelled {
				return ctxErr
			}
			return err
		}
	}
	return nil
}

// finish writes the terminal state of the run and fills result
func (c *Coordinator) finish(ctx context.Context, r *run, result *RunResult, runErr error) {
	ctx = context.WithoutCancel(ctx)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Scenes = c.outcomes(r.results)
	summary := r.collector.GetSummary()
	result.Statistics = &summary

	if runErr != nil {
		result.Status = models.ProjectFailed
		result.Error = runErr.Error()
		r.tracker.Fail(ctx, runErr)
		if err := c.deps.Repo.FinishRun(ctx, result.ProjectID, models.ProjectFailed, runErr.Error()); err != nil {
			c.logger.Warn("Failed to record failed run", zap.String("project_id", result.ProjectID), zap.Error(err))
		}
		return
	}

	result.Status = models.ProjectCompleted
	if r.final != nil {
		result.FinalVideoRef = r.final.FinalRef
		result.FinalVideoURL = r.final.URL
		result.HasMusic = r.final.HasMusic
	}
	if err := c.deps.Repo.FinishRun(ctx, result.ProjectID, models.ProjectCompleted, ""); err != nil {
		c.logger.Warn("Failed to record completed run", zap.String("project_id", result.ProjectID), zap.Error(err))
	}
	r.tracker.Complete(ctx, "Video ready")
}

func (c *Coordinator) outcomes(results []scheduler.Result) []SceneOutcome {
	out := make([]SceneOutcome, 0, len(results))
	for _, res := range results {
		o := SceneOutcome{
			SceneNumber: res.SceneNumber,
			Status:      res.Status,
			Attempts:    res.Attempts,
			Reused:      res.Reused,
		}
		if res.Status == models.SceneCompleted {
			o.ClipURL = generation.URLFor(c.deps.Store, res.Output.ClipRef)
			o.FirstFrameURL = generation.URLFor(c.deps.Store, res.Output.FirstFrameRef)
			o.LastFrameURL = generation.URLFor(c.deps.Store, res.Output.LastFrameRef)
		}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

// watchCancel cancels the run context once the project is flagged
func (c *Coordinator) watchCancel(ctx context.Context, cancel context.CancelFunc, projectID string) {
	ticker := time.NewTicker(c.config.CancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flagged, err := c.deps.Cancels.IsCancelled(ctx, projectID)
			if err != nil {
				c.logger.Debug("Cancel check failed", zap.String("project_id", projectID), zap.Error(err))
				continue
			}
			if flagged {
				c.logger.Info("Cancel requested, stopping run", zap.String("project_id", projectID))
				cancel()
				return
			}
		}
	}
}

// checkCancelled is the stage boundary check
func (c *Coordinator) checkCancelled(ctx context.Context, projectID string) error {
	if err := runContextError(ctx); err != nil {
		return err
	}
	flagged, err := c.deps.Cancels.IsCancelled(ctx, projectID)
	if err != nil {
		c.logger.Debug("Cancel check failed", zap.String("project_id", projectID), zap.Error(err))
		return nil
	}
	if flagged {
		return utils.Errorf(utils.KindCancelled, "orchestrator.run", "run cancelled")
	}
	return nil
}

func runContextError(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return utils.Errorf(utils.KindCancelled, "orchestrator.run", "pipeline exceeded its total timeout")
	case ctx.Err() != nil:
		return utils.Errorf(utils.KindCancelled, "orchestrator.run", "run cancelled")
	}
	return nil
}

// planStage writes a planned script when the project has no scenes yet
func (c *Coordinator) planStage(ctx context.Context, r *run) error {
	scenes, err := c.deps.Repo.ListScenes(ctx, r.cfg.ProjectID)
	if err != nil {
		return err
	}
	if len(scenes) > 0 {
		r.scenes = scenes
		r.tracker.Advance(ctx, 1, "Using existing scenes")
		return nil
	}

	scenes, _, err = c.plan(ctx, r.cfg)
	if err != nil {
		return err
	}
	r.scenes = scenes
	r.tracker.Advance(ctx, 1, fmt.Sprintf("Planned %d scenes", len(scenes)))
	return nil
}

// plan asks the planner for a script and stores it as the scene list
func (c *Coordinator) plan(ctx context.Context, cfg RunConfig) ([]models.Scene, *planner.Script, error) {
	if cfg.DurationSeconds <= 0 {
		return nil, nil, utils.NewValidationError("durationSeconds", "required to plan scenes")
	}
	start := time.Now()
	script, err := c.deps.Planner.Plan(ctx, planner.Request{
		Prompt:          cfg.Prompt,
		Category:        cfg.Category,
		DurationSeconds: cfg.DurationSeconds,
		Style:           cfg.Style,
	})
	if err != nil {
		return nil, nil, err
	}
	c.logger.Debug("Planned script",
		zap.String("project_id", cfg.ProjectID),
		zap.Int("scenes", len(script.Scenes)),
		zap.Duration("duration", time.Since(start)))

	scenes, err := c.deps.Repo.ReplaceScenes(ctx, cfg.ProjectID, planner.ToModels(cfg.ProjectID, script.Scenes), cfg.Flags.Continuous)
	if err != nil {
		return nil, nil, err
	}
	if err := c.deps.Repo.SetScript(ctx, cfg.ProjectID, script.Script); err != nil {
		return nil, nil, err
	}
	return scenes, script, nil
}

// assetStage generates every declared asset prompt that has no stored asset
func (c *Coordinator) assetStage(ctx context.Context, r *run) error {
	existing, err := c.deps.Repo.ListAssets(ctx, r.cfg.ProjectID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, a := range existing {
		have[a.Prompt] = true
	}

	var missing []string
	for _, prompt := range r.cfg.AssetPrompts {
		if !have[prompt] {
			have[prompt] = true
			missing = append(missing, prompt)
		}
	}
	if len(missing) == 0 {
		r.tracker.Advance(ctx, 1, "Reference assets ready")
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		done int
	)
	var g errgroup.Group
	g.SetLimit(c.config.AssetConcurrency)
	for _, prompt := range missing {
		prompt := prompt
		g.Go(func() error {
			start := time.Now()
			res, err := c.deps.Assets.GenerateAsset(ctx, generation.AssetRequest{
				ProjectID:   r.cfg.ProjectID,
				Prompt:      prompt,
				ModelID:     r.cfg.ImageModelID,
				AspectRatio: r.cfg.Style.AspectRatio,
				Style:       r.cfg.Style,
			})
			r.collector.RecordCall("asset", time.Since(start), string(utils.KindOf(err)))

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if res.Warning != nil {
				c.logger.Warn("Asset stored but not recorded",
					zap.String("project_id", r.cfg.ProjectID),
					zap.String("storage_ref", res.StorageRef),
					zap.Error(res.Warning))
			}
			return nil
		})
	}
	_ = g.Wait()
	r.tracker.Advance(ctx, 1, fmt.Sprintf("Generated %d of %d reference assets", len(missing)-len(errs), len(missing)))

	if len(errs) > 0 {
		return utils.E(utils.KindOf(errs[0]), "orchestrator.assets",
			fmt.Errorf("%d of %d reference assets failed: %w", len(errs), len(missing), errors.Join(errs...)))
	}
	return nil
}

// sceneStage schedules every scene over the dependency graph and persists
// each outcome as it arrives
func (c *Coordinator) sceneStage(ctx context.Context, r *run) error {
	const op = "orchestrator.scenes"
	if len(r.scenes) == 0 {
		return utils.Errorf(utils.KindValidation, op, "project has no scenes")
	}

	assets, err := c.deps.Repo.ListAssets(ctx, r.cfg.ProjectID)
	if err != nil {
		return err
	}
	assetRefs := make(map[string]string, len(assets))
	for _, a := range assets {
		assetRefs[a.ID] = a.StorageRef
	}

	byNumber := make(map[int]models.Scene, len(r.scenes))
	references := make(map[int][]string, len(r.scenes))
	existing := make(map[int]scheduler.Output)
	for _, s := range r.scenes {
		byNumber[s.SceneNumber] = s
		refs, err := continuity.ResolveReferences(s.SelectedAssetIDs, assetRefs)
		if err != nil {
			return err
		}
		references[s.SceneNumber] = refs
		if s.HasClip() {
			existing[s.SceneNumber] = scheduler.Output{
				ClipRef:       s.ClipRef,
				FirstFrameRef: s.FirstFrameRef,
				LastFrameRef:  s.LastFrameRef,
			}
		}
	}

	graph, err := continuity.BuildGraph(r.scenes, r.cfg.Flags)
	if err != nil {
		return err
	}

	runScene := func(ctx context.Context, node continuity.Node, deps map[int]scheduler.Output) (scheduler.Output, error) {
		scene := byNumber[node.SceneNumber]
		var previous *models.Scene
		if out, ok := deps[node.SceneNumber-1]; ok {
			previous = &models.Scene{
				SceneNumber:   node.SceneNumber - 1,
				Status:        models.SceneCompleted,
				ClipRef:       out.ClipRef,
				FirstFrameRef: out.FirstFrameRef,
				LastFrameRef:  out.LastFrameRef,
			}
		}
		duration := scene.DurationSeconds
		if duration <= 0 && c.config.MaxSceneSeconds > 0 {
			duration = float64(c.config.MaxSceneSeconds)
		}
		res, err := c.deps.Scenes.GenerateScene(ctx, generation.SceneRequest{
			ProjectID:         r.cfg.ProjectID,
			SceneNumber:       scene.SceneNumber,
			SceneID:           scene.ID,
			Prompt:            scene.Prompt,
			ModelID:           r.cfg.VideoModelID,
			DurationSeconds:   duration,
			Style:             r.cfg.Style,
			ReferenceRefs:     references[scene.SceneNumber],
			Continuity:        continuity.ResolveInputs(scene, previous, r.cfg.Flags),
			UseReferenceFrame: r.cfg.Flags.UseReferenceFrame,
		})
		if err != nil {
			return scheduler.Output{}, err
		}
		return scheduler.Output{
			ClipRef:       res.ClipRef,
			FirstFrameRef: res.FirstFrameRef,
			LastFrameRef:  res.LastFrameRef,
		}, nil
	}

	total := len(graph.Nodes)
	finished := 0
	onEvent := func(ev scheduler.Event) {
		scene := byNumber[ev.Result.SceneNumber]
		switch ev.Type {
		case scheduler.EventStarted:
			if err := c.deps.Repo.MarkSceneGenerating(context.WithoutCancel(ctx), scene.ID); err != nil {
				c.persistWarning(scene, err)
			}
			r.tracker.SetScene(ctx, scene.SceneNumber, models.SceneGenerating)
		case scheduler.EventFinished:
			finished++
			c.persistOutcome(ctx, scene, ev.Result)
			r.tracker.SetScene(ctx, scene.SceneNumber, ev.Result.Status)
			r.tracker.Advance(ctx, float64(finished)/float64(total),
				fmt.Sprintf("Scene %d of %d %s", finished, total, ev.Result.Status))
		}
	}

	controller := scheduler.New(scheduler.Config{
		Concurrency:   c.config.SceneConcurrency,
		CallTimeout:   c.config.CallTimeout,
		RetryAttempts: c.config.RetryAttempts,
	}, r.collector, c.logger)

	results, err := controller.RunScenes(ctx, graph, r.cfg.Mode, existing, runScene, onEvent)
	r.results = results
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.Status != models.SceneCompleted {
			return sceneFailure(results)
		}
	}
	return nil
}

// persistOutcome writes a finished scene back to its row. Reused scenes are
// already stored.
func (c *Coordinator) persistOutcome(ctx context.Context, scene models.Scene, res scheduler.Result) {
	if res.Reused {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if res.Status == models.SceneCompleted {
		err = c.deps.Repo.SaveSceneResult(ctx, scene.ID, res.Output.ClipRef, res.Output.FirstFrameRef, res.Output.LastFrameRef)
	} else {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		err = c.deps.Repo.SaveSceneFailure(ctx, scene.ID, res.Status, msg)
	}
	if err != nil {
		c.persistWarning(scene, err)
	}
}

func (c *Coordinator) persistWarning(scene models.Scene, err error) {
	c.logger.Warn("Failed to persist scene state",
		zap.String("project_id", scene.ProjectID),
		zap.Int("scene", scene.SceneNumber),
		zap.Error(utils.E(utils.KindPersistenceWarning, "orchestrator.persist", err)))
}

// sceneFailure reports the first failed scene, falling back to the first
// skipped one
func sceneFailure(results []scheduler.Result) error {
	var first *scheduler.Result
	failed, skipped := 0, 0
	for i := range results {
		switch results[i].Status {
		case models.SceneFailed:
			if failed == 0 {
				first = &results[i]
			}
			failed++
		case models.SceneSkipped:
			if first == nil {
				first = &results[i]
			}
			skipped++
		}
	}
	if first == nil {
		return nil
	}
	cause := first.Err
	if cause == nil {
		cause = errors.New("no error recorded")
	}
	return utils.E(utils.KindOf(cause), "orchestrator.scenes", fmt.Errorf("scene %d %s (%d failed, %d skipped): %w",
		first.SceneNumber, first.Status, failed, skipped, cause))
}

// stitchStage joins the completed clips in scene order
func (c *Coordinator) stitchStage(ctx context.Context, r *run) error {
	refs := make([]string, len(r.results))
	for i, res := range r.results {
		refs[i] = res.Output.ClipRef
	}
	sess, err := c.deps.Stitcher.Concat(ctx, r.cfg.ProjectID, refs)
	if err != nil {
		return err
	}
	r.session = sess
	r.tracker.Advance(ctx, 1, fmt.Sprintf("Stitched %d scenes", len(refs)))
	return nil
}

// audioStage muxes the project's music track when there is one
func (c *Coordinator) audioStage(ctx context.Context, r *run) error {
	if r.cfg.MusicRef == "" {
		r.tracker.Advance(ctx, 1, "No music track")
		return nil
	}
	if err := c.deps.Stitcher.MergeAudio(ctx, r.session, r.cfg.MusicRef, r.cfg.MusicVolume); err != nil {
		return err
	}
	r.tracker.Advance(ctx, 1, "Music added")
	return nil
}

// finalizeStage publishes the final video and records it on the project
func (c *Coordinator) finalizeStage(ctx context.Context, r *run) error {
	final, err := c.deps.Stitcher.Publish(ctx, r.session)
	if err != nil {
		return err
	}
	if err := c.deps.Repo.SetFinalVideo(context.WithoutCancel(ctx), r.cfg.ProjectID, final.FinalRef); err != nil {
		return err
	}
	r.final = final
	return nil
}
