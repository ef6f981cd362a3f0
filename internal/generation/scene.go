package generation

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scenecraft/internal/continuity"
	"scenecraft/internal/models"
	"scenecraft/internal/providers"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// SceneConfig configures the scene generator
type SceneConfig struct {
	PollInterval      time.Duration
	GenerationTimeout time.Duration
	WorkDir           string
}

// SceneRequest is everything needed to generate one scene clip
type SceneRequest struct {
	ProjectID   string
	SceneNumber int
	// SceneID keys the stored objects. Empty means the scene has no row yet
	// and a fresh id is used.
	SceneID         string
	Prompt          string
	ModelID         string
	DurationSeconds float64
	Style           models.Style
	// ReferenceRefs are the selected assets' storage refs, in selection order
	ReferenceRefs     []string
	Continuity        continuity.Inputs
	UseReferenceFrame bool
}

// SceneResult holds the stored artifacts of a generated scene
type SceneResult struct {
	ClipRef       string
	FirstFrameRef string
	LastFrameRef  string
	JobID         string
	Duration      time.Duration
}

// SceneGenerator turns a scene request into a stored clip and its frames
type SceneGenerator struct {
	video  providers.VideoProvider
	client httpclient.Client
	media  MediaTool
	store  storage.Storage
	config SceneConfig
	logger *zap.Logger
}

// NewSceneGenerator creates a scene generator
func NewSceneGenerator(video providers.VideoProvider, client httpclient.Client, media MediaTool, store storage.Storage, config SceneConfig, logger *zap.Logger) *SceneGenerator {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 4 * time.Minute
	}
	return &SceneGenerator{
		video:  video,
		client: client,
		media:  media,
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "scene_generator")),
	}
}

// BuildVideoRequest converts a scene request into the provider request.
// Refs are turned into URLs the provider can fetch.
func (g *SceneGenerator) BuildVideoRequest(req SceneRequest) providers.VideoRequest {
	refs := make([]string, 0, len(req.ReferenceRefs))
	for _, ref := range req.ReferenceRefs {
		refs = append(refs, URLFor(g.store, ref))
	}

	vr := providers.VideoRequest{
		Prompt:             req.Prompt,
		ModelID:            req.ModelID,
		AspectRatio:        req.Style.AspectRatio,
		DurationSeconds:    req.DurationSeconds,
		ReferenceImageURLs: refs,
		Style:              req.Style,
	}

	switch req.Continuity.Kind {
	case continuity.InputClip:
		vr.PreviousVideoURL = URLFor(g.store, req.Continuity.PreviousClipRef)
	case continuity.InputFrame:
		vr.StartImageURL = URLFor(g.store, req.Continuity.PreviousLastFrameRef)
	default:
		if req.UseReferenceFrame && len(refs) > 0 {
			vr.StartImageURL = refs[0]
		}
	}
	return vr
}

// GenerateScene submits the clip, waits for it, extracts the first and last
// frames and stores all three under the scene's keys
func (g *SceneGenerator) GenerateScene(ctx context.Context, req SceneRequest) (*SceneResult, error) {
	const op = "scene.generate"
	if req.ProjectID == "" || req.SceneNumber < 1 {
		return nil, utils.Errorf(utils.KindValidation, op, "project id and a positive scene number are required")
	}
	start := time.Now()
	logger := g.logger.With(zap.String("project_id", req.ProjectID), zap.Int("scene", req.SceneNumber))

	jobID, err := g.video.Submit(ctx, g.BuildVideoRequest(req))
	if err != nil {
		return nil, err
	}
	logger.Info("Scene generation submitted", zap.String("job_id", jobID), zap.String("continuity", string(req.Continuity.Kind)))

	videoURL, err := g.waitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	workDir, err := utils.NewWorkspace(g.config.WorkDir, "scene-")
	if err != nil {
		return nil, utils.E(utils.KindInternal, op, err)
	}
	defer func() {
		if err := utils.CleanupWorkspace(g.config.WorkDir, workDir); err != nil {
			logger.Warn("Failed to clean up scene workspace", zap.Error(err))
		}
	}()

	clipPath := filepath.Join(workDir, "clip.mp4")
	if err := providers.Fetch(ctx, g.client, &providers.Media{URL: videoURL}, clipPath); err != nil {
		return nil, err
	}

	meta, err := g.media.Probe(ctx, clipPath)
	if err != nil {
		return nil, utils.E(utils.KindProviderRejected, op, err)
	}
	if !meta.Usable() {
		return nil, utils.Errorf(utils.KindProviderRejected, op, "provider returned an unusable clip: %v", meta.Problems)
	}

	firstPath := filepath.Join(workDir, "first.jpg")
	lastPath := filepath.Join(workDir, "last.jpg")
	if err := g.media.ExtractFirstFrame(ctx, clipPath, firstPath); err != nil {
		return nil, utils.E(utils.KindProviderRejected, op, err)
	}
	if err := g.media.ExtractLastFrame(ctx, clipPath, lastPath); err != nil {
		return nil, utils.E(utils.KindProviderRejected, op, err)
	}

	sceneID := req.SceneID
	if sceneID == "" {
		sceneID = uuid.NewString()
	}
	result := &SceneResult{
		ClipRef:       SceneClipKey(req.ProjectID, sceneID),
		FirstFrameRef: SceneFirstFrameKey(req.ProjectID, sceneID),
		LastFrameRef:  SceneLastFrameKey(req.ProjectID, sceneID),
		JobID:         jobID,
	}
	for _, upload := range []struct{ key, local string }{
		{result.ClipRef, clipPath},
		{result.FirstFrameRef, firstPath},
		{result.LastFrameRef, lastPath},
	} {
		if err := g.store.ReplaceObject(ctx, upload.key, upload.local); err != nil {
			return nil, uploadError(op, err)
		}
	}

	result.Duration = time.Since(start)
	logger.Info("Scene generated",
		zap.String("clip", result.ClipRef),
		zap.Duration("clip_duration", meta.Duration),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

// waitForJob polls the provider until the job is terminal or the
// generation timeout elapses
func (g *SceneGenerator) waitForJob(ctx context.Context, jobID string) (string, error) {
	const op = "scene.poll"
	deadline := time.NewTimer(g.config.GenerationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := g.video.Status(ctx, jobID)
		switch {
		case err != nil && !utils.Is(err, utils.KindTransientNetwork):
			return "", err
		case err != nil:
			g.logger.Debug("Transient status poll failure", zap.String("job_id", jobID), zap.Error(err))
		case status.State == providers.JobSucceeded:
			return status.VideoURL, nil
		case status.State == providers.JobFailed:
			msg := status.Error
			if msg == "" {
				msg = "generation failed"
			}
			return "", utils.Errorf(utils.KindProviderRejected, op, "job %s: %s", jobID, msg)
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return "", utils.E(utils.KindProviderTimeout, op, ctx.Err())
			}
			return "", utils.E(utils.KindCancelled, op, ctx.Err())
		case <-deadline.C:
			return "", utils.Errorf(utils.KindProviderTimeout, op, "job %s did not finish within %v", jobID, g.config.GenerationTimeout)
		case <-ticker.C:
		}
	}
}
