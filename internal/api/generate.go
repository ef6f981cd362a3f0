package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scenecraft/internal/generation"
	"scenecraft/internal/models"
	"scenecraft/internal/orchestrator"
	"scenecraft/internal/providers"
	"scenecraft/pkg/utils"
)

// styleFields are the style parameters accepted by the generation endpoints
type styleFields struct {
	AspectRatio  string `json:"aspectRatio"`
	Style        string `json:"style"`
	Mood         string `json:"mood"`
	ColorPalette string `json:"colorPalette"`
	Pacing       string `json:"pacing"`
}

func (f styleFields) toModel() models.Style {
	return models.Style{
		Mood:         f.Mood,
		AspectRatio:  f.AspectRatio,
		ColorPalette: f.ColorPalette,
		Pacing:       f.Pacing,
		VisualStyle:  f.Style,
	}
}

type generateSceneRequest struct {
	styleFields
	SceneIndex             *int     `json:"sceneIndex"`
	Prompt                 string   `json:"prompt"`
	Duration               float64  `json:"duration"`
	ReferenceImages        []string `json:"referenceImages"`
	PreviousSceneVideoURL  string   `json:"previousSceneVideoUrl"`
	PreviousSceneLastFrame string   `json:"previousSceneLastFrame"`
	UseReferenceFrame      bool     `json:"useReferenceFrame"`
	Continuous             bool     `json:"continuous"`
	VideoModelID           string   `json:"videoModelId"`
}

type sceneSpecRequest struct {
	SceneIndex       int      `json:"sceneIndex"`
	Prompt           string   `json:"prompt"`
	Duration         float64  `json:"duration"`
	SelectedAssetIDs []string `json:"selectedAssetIds"`
	ExtendPrevious   bool     `json:"extendPrevious"`
}

type generateAllRequest struct {
	styleFields
	Scenes            []sceneSpecRequest `json:"scenes"`
	Parallel          bool               `json:"parallel"`
	Continuous        bool               `json:"continuous"`
	UseReferenceFrame bool               `json:"useReferenceFrame"`
	VideoModelID      string             `json:"videoModelId"`
}

type stitchRequest struct {
	MusicURL string `json:"musicUrl"`
}

type generateImageRequest struct {
	Prompt       string `json:"prompt"`
	ImageModelID string `json:"imageModelId"`
	AspectRatio  string `json:"aspectRatio"`
	ProjectID    string `json:"projectId"`
}

func (s *Server) generateScript(c *gin.Context) {
	project, ok := s.requireIdle(c)
	if !ok {
		return
	}
	script, err := s.deps.Pipeline.PlanScript(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "script": script.Script, "scenes": script.Scenes})
}

// generate starts a full pipeline run and returns immediately; progress is
// polled from GET /projects/:id or streamed over the progress socket
func (s *Server) generate(c *gin.Context) {
	project, ok := s.requireIdle(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := s.deps.Pipeline.ResetCancel(ctx, project.ID); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, project.ID); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":        true,
		"projectId":      project.ID,
		"status":         "queued",
		"pollIntervalMs": s.options.PollInterval.Milliseconds(),
	})
}

func (s *Server) cancel(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	if !s.busy(project) {
		s.respondError(c, utils.Errorf(utils.KindConflict, "api.cancel", "no generation is running for project %s", project.ID))
		return
	}
	if err := s.deps.Pipeline.Cancel(c.Request.Context(), project.ID); err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Cancellation requested", zap.String("project_id", project.ID))
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func (s *Server) generateScene(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	var req generateSceneRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.SceneIndex == nil {
		s.respondError(c, utils.NewValidationError("sceneIndex", "is required"))
		return
	}

	result, err := s.deps.Pipeline.GenerateSingleScene(c.Request.Context(), project.ID, orchestrator.SingleSceneRequest{
		SceneIndex:             *req.SceneIndex,
		Prompt:                 req.Prompt,
		DurationSeconds:        req.Duration,
		ReferenceImages:        req.ReferenceImages,
		PreviousSceneVideoURL:  req.PreviousSceneVideoURL,
		PreviousSceneLastFrame: req.PreviousSceneLastFrame,
		UseReferenceFrame:      req.UseReferenceFrame,
		Continuous:             req.Continuous,
		VideoModelID:           req.VideoModelID,
		Style:                  req.toModel(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"sceneNumber":   result.SceneNumber,
		"videoUrl":      result.VideoURL,
		"firstFrameUrl": result.FirstFrameURL,
		"lastFrameUrl":  result.LastFrameURL,
		"attempts":      result.Attempts,
	})
}

// generateAll runs the whole pipeline before answering. The run is detached
// from the request so a dropped connection does not abort it.
func (s *Server) generateAll(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	var req generateAllRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if len(req.Scenes) == 0 {
		s.respondError(c, utils.NewValidationError("scenes", "at least one scene is required"))
		return
	}

	specs := make([]orchestrator.SceneSpec, 0, len(req.Scenes))
	for _, sc := range req.Scenes {
		specs = append(specs, orchestrator.SceneSpec{
			SceneIndex:       sc.SceneIndex,
			Prompt:           sc.Prompt,
			DurationSeconds:  sc.Duration,
			SelectedAssetIDs: sc.SelectedAssetIDs,
			ExtendPrevious:   sc.ExtendPrevious,
		})
	}

	ctx := context.WithoutCancel(c.Request.Context())
	result, err := s.deps.Pipeline.GenerateAll(ctx, project.ID, orchestrator.GenerateAllRequest{
		Scenes:            specs,
		Parallel:          req.Parallel,
		Continuous:        req.Continuous,
		UseReferenceFrame: req.UseReferenceFrame,
		VideoModelID:      req.VideoModelID,
		Style:             req.toModel(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"finalVideoUrl": result.FinalVideoURL,
		"sceneUrls":     result.SceneURLs,
		"frameUrls":     result.FrameURLs,
	})
}

func (s *Server) stitch(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	var req stitchRequest
	if c.Request.ContentLength != 0 && !s.bindJSON(c, &req) {
		return
	}

	result, err := s.deps.Pipeline.Restitch(c.Request.Context(), project.ID, req.MusicURL)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"videoUrl":   result.VideoURL,
		"sceneCount": result.SceneCount,
		"hasMusic":   result.HasMusic,
	})
}

func (s *Server) generateImage(c *gin.Context) {
	var req generateImageRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.respondError(c, utils.NewValidationError("prompt", "is required"))
		return
	}
	if req.AspectRatio != "" && !supportedAspectRatio(req.AspectRatio) {
		s.respondError(c, utils.NewValidationError("aspectRatio", "unsupported aspect ratio "+req.AspectRatio))
		return
	}

	assetReq := generation.AssetRequest{
		Prompt:      req.Prompt,
		ModelID:     req.ImageModelID,
		AspectRatio: req.AspectRatio,
	}
	if req.ProjectID != "" {
		project, err := s.deps.Repo.GetProject(c.Request.Context(), req.ProjectID, c.GetString(ctxOwner))
		if err != nil {
			s.respondError(c, err)
			return
		}
		assetReq.ProjectID = project.ID
		assetReq.Style = project.Style
		if assetReq.ModelID == "" {
			assetReq.ModelID = project.ImageModelID
		}
	}

	result, err := s.deps.Images.GenerateAsset(c.Request.Context(), assetReq)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if result.Warning != nil {
		s.logger.Warn("Image stored but not recorded as an asset",
			zap.String("project_id", req.ProjectID),
			zap.Error(result.Warning))
	}

	body := gin.H{"success": true, "imageUrl": result.URL}
	if result.Asset != nil {
		body["assetId"] = result.Asset.ID
		body["assetNumber"] = result.Asset.AssetNumber
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) generateMusic(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	var req providers.MusicRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Lyrics) == "" {
		s.respondError(c, utils.NewValidationError("prompt", "a prompt or lyrics are required"))
		return
	}

	result, err := s.deps.Music.GenerateMusic(c.Request.Context(), project.ID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if result.Warning != nil {
		s.logger.Warn("Music stored but not recorded on the project",
			zap.String("project_id", project.ID),
			zap.Error(result.Warning))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "musicUrl": result.URL})
}
