package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scenecraft/internal/generation"
	"scenecraft/internal/models"
	"scenecraft/internal/orchestrator"
	"scenecraft/internal/progress"
	"scenecraft/pkg/utils"
)

type createProjectRequest struct {
	Prompt            string   `json:"prompt"`
	Category          string   `json:"category"`
	DurationSeconds   int      `json:"durationSeconds"`
	Style             string   `json:"style"`
	Mood              string   `json:"mood"`
	AspectRatio       string   `json:"aspectRatio"`
	ColorPalette      string   `json:"colorPalette"`
	Pacing            string   `json:"pacing"`
	VideoModelID      string   `json:"videoModelId"`
	ImageModelID      string   `json:"imageModelId"`
	UseReferenceFrame bool     `json:"useReferenceFrame"`
	Continuous        bool     `json:"continuous"`
	Parallel          bool     `json:"parallel"`
	AssetPrompts      []string `json:"assetPrompts"`
	MusicVolume       float64  `json:"musicVolume"`
}

type addSceneRequest struct {
	Prompt           string   `json:"prompt"`
	DurationSeconds  float64  `json:"duration"`
	SelectedAssetIDs []string `json:"selectedAssetIds"`
	ExtendPrevious   bool     `json:"extendPrevious"`
}

type sceneView struct {
	models.Scene
	ClipURL       string `json:"clipUrl,omitempty"`
	FirstFrameURL string `json:"firstFrameUrl,omitempty"`
	LastFrameURL  string `json:"lastFrameUrl,omitempty"`
}

type assetView struct {
	models.Asset
	URL string `json:"url"`
}

func validateProject(p *models.Project, maxAssets int) error {
	var errs []error
	if strings.TrimSpace(p.Prompt) == "" {
		errs = append(errs, utils.NewValidationError("prompt", "is required"))
	}
	if p.DurationSeconds < 0 || p.DurationSeconds > orchestrator.MaxDurationSeconds {
		errs = append(errs, utils.NewValidationError("durationSeconds",
			"must be between 0 and "+strconv.Itoa(orchestrator.MaxDurationSeconds)))
	}
	if p.AspectRatio != "" && !supportedAspectRatio(p.AspectRatio) {
		errs = append(errs, utils.NewValidationError("aspectRatio", "unsupported aspect ratio "+p.AspectRatio))
	}
	if len(p.AssetPrompts) > maxAssets {
		errs = append(errs, utils.NewValidationError("assetPrompts",
			"at most "+strconv.Itoa(maxAssets)+" assets per project"))
	}
	if p.MusicVolume < 0 || p.MusicVolume > 2 {
		errs = append(errs, utils.NewValidationError("musicVolume", "must be between 0 and 2"))
	}
	if len(errs) == 0 {
		return nil
	}
	return utils.E(utils.KindValidation, "api.validateProject", utils.CombineErrors(errs))
}

func supportedAspectRatio(ratio string) bool {
	for _, r := range orchestrator.AspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}

func (s *Server) createProject(c *gin.Context) {
	var req createProjectRequest
	if !s.bindJSON(c, &req) {
		return
	}

	project := &models.Project{
		OwnerID:  c.GetString(ctxOwner),
		Prompt:   req.Prompt,
		Category: req.Category,
		Style: models.Style{
			Mood:         req.Mood,
			AspectRatio:  req.AspectRatio,
			ColorPalette: req.ColorPalette,
			Pacing:       req.Pacing,
			VisualStyle:  req.Style,
		},
		DurationSeconds:   req.DurationSeconds,
		VideoModelID:      req.VideoModelID,
		ImageModelID:      req.ImageModelID,
		UseReferenceFrame: req.UseReferenceFrame,
		Continuous:        req.Continuous,
		Parallel:          req.Parallel,
		AssetPrompts:      req.AssetPrompts,
		MusicVolume:       req.MusicVolume,
	}
	if err := validateProject(project, s.options.MaxAssets); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.deps.Repo.CreateProject(c.Request.Context(), project); err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Info("Created project", zap.String("project_id", project.ID), zap.String("owner", project.OwnerID))
	c.JSON(http.StatusCreated, gin.H{"success": true, "project": project})
}

// loadProject fetches the caller's project, answering on failure
func (s *Server) loadProject(c *gin.Context) (*models.Project, bool) {
	project, err := s.deps.Repo.GetProject(c.Request.Context(), c.Param("id"), c.GetString(ctxOwner))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return project, true
}

// busy reports whether a run currently owns the project
func (s *Server) busy(project *models.Project) bool {
	return project.Status == models.ProjectGenerating || s.deps.Pipeline.IsRunning(project.ID)
}

// requireIdle loads the project and rejects the request while a run is active
func (s *Server) requireIdle(c *gin.Context) (*models.Project, bool) {
	project, ok := s.loadProject(c)
	if !ok {
		return nil, false
	}
	if s.busy(project) {
		s.respondError(c, utils.Errorf(utils.KindConflict, "api", "a generation is already running for project %s", project.ID))
		return nil, false
	}
	return project, true
}

func (s *Server) getProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	scenes, err := s.deps.Repo.ListScenes(ctx, project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	assets, err := s.deps.Repo.ListAssets(ctx, project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	sceneViews := make([]sceneView, 0, len(scenes))
	for _, sc := range scenes {
		sceneViews = append(sceneViews, sceneView{
			Scene:         sc,
			ClipURL:       generation.URLFor(s.deps.Store, sc.ClipRef),
			FirstFrameURL: generation.URLFor(s.deps.Store, sc.FirstFrameRef),
			LastFrameURL:  generation.URLFor(s.deps.Store, sc.LastFrameRef),
		})
	}
	assetViews := make([]assetView, 0, len(assets))
	for _, a := range assets {
		assetViews = append(assetViews, assetView{Asset: a, URL: generation.URLFor(s.deps.Store, a.StorageRef)})
	}

	c.JSON(http.StatusOK, gin.H{
		"project":        project,
		"scenes":         sceneViews,
		"assets":         assetViews,
		"progress":       progress.FromProject(project),
		"finalVideoUrl":  generation.URLFor(s.deps.Store, project.FinalVideoRef),
		"musicUrl":       generation.URLFor(s.deps.Store, project.MusicRef),
		"pollIntervalMs": s.options.PollInterval.Milliseconds(),
	})
}

func (s *Server) addScene(c *gin.Context) {
	project, ok := s.requireIdle(c)
	if !ok {
		return
	}
	var req addSceneRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.respondError(c, utils.NewValidationError("prompt", "is required"))
		return
	}
	if req.DurationSeconds < 0 {
		s.respondError(c, utils.NewValidationError("duration", "must not be negative"))
		return
	}

	scene := &models.Scene{
		ProjectID:        project.ID,
		Prompt:           req.Prompt,
		DurationSeconds:  req.DurationSeconds,
		SelectedAssetIDs: req.SelectedAssetIDs,
		ExtendPrevious:   req.ExtendPrevious,
	}
	if err := s.deps.Repo.AddScene(c.Request.Context(), scene); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "scene": scene})
}

func (s *Server) deleteScene(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("sceneNumber"))
	if err != nil || n < 1 {
		s.respondError(c, utils.NewValidationError("sceneNumber", "must be a positive integer"))
		return
	}
	project, ok := s.requireIdle(c)
	if !ok {
		return
	}
	if err := s.deps.Repo.DeleteScene(c.Request.Context(), project.ID, n); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteAsset(c *gin.Context) {
	project, ok := s.requireIdle(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	assetID := c.Param("assetId")

	assets, err := s.deps.Repo.ListAssets(ctx, project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var ref string
	for _, a := range assets {
		if a.ID == assetID {
			ref = a.StorageRef
		}
	}

	if err := s.deps.Repo.DeleteAsset(ctx, project.ID, assetID); err != nil {
		s.respondError(c, err)
		return
	}
	if ref != "" && !utils.IsRemoteURL(ref) {
		if err := s.deps.Store.DeleteObject(ctx, ref); err != nil {
			s.logger.Warn("Failed to delete asset object",
				zap.String("project_id", project.ID),
				zap.String("key", ref),
				zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
