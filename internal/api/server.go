package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scenecraft/internal/generation"
	"scenecraft/internal/orchestrator"
	"scenecraft/internal/planner"
	"scenecraft/internal/progress"
	"scenecraft/internal/providers"
	"scenecraft/internal/queue"
	"scenecraft/internal/store"
	"scenecraft/pkg/storage"
)

// Pipeline is the coordinator surface the handlers call
type Pipeline interface {
	PlanScript(ctx context.Context, projectID string) (*planner.Script, error)
	GenerateSingleScene(ctx context.Context, projectID string, req orchestrator.SingleSceneRequest) (*orchestrator.SingleSceneResult, error)
	GenerateAll(ctx context.Context, projectID string, req orchestrator.GenerateAllRequest) (*orchestrator.GenerateAllResult, error)
	Restitch(ctx context.Context, projectID, musicURL string) (*orchestrator.RestitchResult, error)
	Cancel(ctx context.Context, projectID string) error
	ResetCancel(ctx context.Context, projectID string) error
	IsRunning(projectID string) bool
}

// ImageGenerator produces reference images
type ImageGenerator interface {
	GenerateAsset(ctx context.Context, req generation.AssetRequest) (*generation.AssetResult, error)
}

// MusicGenerator produces music tracks
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, projectID string, req providers.MusicRequest) (*generation.MusicResult, error)
}

// Dependencies are the collaborators of the HTTP API
type Dependencies struct {
	Repo       store.Repository
	Pipeline   Pipeline
	Dispatcher queue.Dispatcher
	Images     ImageGenerator
	Music      MusicGenerator
	Store      storage.Storage
	Publisher  progress.Publisher
	// Health reports whether backing services are reachable; nil means healthy
	Health func(ctx context.Context) error
}

// Options configure the HTTP surface
type Options struct {
	Mode         string
	JWTSecret    string
	PollInterval time.Duration
	MaxAssets    int
}

// Server is the HTTP API
type Server struct {
	deps    Dependencies
	options Options
	router  *gin.Engine
	logger  *zap.Logger
}

// NewServer builds the router
func NewServer(deps Dependencies, options Options, logger *zap.Logger) *Server {
	if options.Mode != "" {
		gin.SetMode(options.Mode)
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 2 * time.Second
	}
	if options.MaxAssets <= 0 {
		options.MaxAssets = 5
	}

	s := &Server{
		deps:    deps,
		options: options,
		router:  gin.New(),
		logger:  logger.With(zap.String("component", "api")),
	}
	s.router.Use(requestID(), accessLog(s.logger), recovery(s.logger))
	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)

	protected := s.router.Group("")
	protected.Use(authenticate(s.options.JWTSecret))
	{
		protected.POST("/generate-image", s.generateImage)

		projects := protected.Group("/projects")
		projects.POST("", s.createProject)
		projects.GET("/:id", s.getProject)
		projects.GET("/:id/progress/ws", s.progressSocket)

		projects.POST("/:id/generate-script", s.generateScript)
		projects.POST("/:id/generate", s.generate)
		projects.POST("/:id/cancel", s.cancel)
		projects.POST("/:id/stitch", s.stitch)
		projects.POST("/:id/generate-music", s.generateMusic)

		projects.POST("/:id/scenes", s.addScene)
		projects.DELETE("/:id/scenes/:sceneNumber", s.deleteScene)
		projects.POST("/:id/scenes/generate", s.generateScene)
		projects.POST("/:id/scenes/generate-all", s.generateAll)

		projects.DELETE("/:id/assets/:assetId", s.deleteAsset)
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
