package generation

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scenecraft/internal/providers"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// MusicResult is a stored music track
type MusicResult struct {
	StorageRef string
	URL        string
	Warning    error
}

// MusicGenerator generates a track and records it as the project's music
type MusicGenerator struct {
	music   providers.MusicProvider
	client  httpclient.Client
	store   storage.Storage
	repo    MusicRepository
	workDir string
	logger  *zap.Logger
}

// NewMusicGenerator creates a music generator
func NewMusicGenerator(music providers.MusicProvider, client httpclient.Client, store storage.Storage, repo MusicRepository, workDir string, logger *zap.Logger) *MusicGenerator {
	return &MusicGenerator{
		music:   music,
		client:  client,
		store:   store,
		repo:    repo,
		workDir: workDir,
		logger:  logger.With(zap.String("component", "music_generator")),
	}
}

// GenerateMusic creates a track for projectID
func (g *MusicGenerator) GenerateMusic(ctx context.Context, projectID string, req providers.MusicRequest) (*MusicResult, error) {
	const op = "music.generate"
	if req.Prompt == "" && req.Lyrics == "" {
		return nil, utils.NewValidationError("prompt", "a prompt or lyrics are required")
	}

	media, err := g.music.GenerateMusic(ctx, req)
	if err != nil {
		return nil, err
	}

	workDir, err := utils.NewWorkspace(g.workDir, "music-")
	if err != nil {
		return nil, utils.E(utils.KindInternal, op, err)
	}
	defer utils.CleanupWorkspace(g.workDir, workDir)

	format := media.Format
	if format == "" {
		format = "mp3"
	}
	local := filepath.Join(workDir, "track."+format)
	if err := providers.Fetch(ctx, g.client, media, local); err != nil {
		return nil, err
	}

	key := MusicKey(projectID, uuid.NewString(), format)
	if err := g.store.UploadObject(ctx, local, key); err != nil {
		return nil, uploadError(op, err)
	}

	result := &MusicResult{StorageRef: key, URL: g.store.URL(key)}
	if err := g.repo.SetMusic(ctx, projectID, key); err != nil {
		result.Warning = utils.E(utils.KindPersistenceWarning, op, err)
		g.logger.Warn("Music stored but not recorded", zap.String("project_id", projectID), zap.Error(err))
	}
	return result, nil
}
