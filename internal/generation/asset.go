package generation

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scenecraft/internal/models"
	"scenecraft/internal/providers"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// AssetRequest asks for one reference image. ProjectID is empty for
// transient generations that are not recorded as assets.
type AssetRequest struct {
	ProjectID   string
	Prompt      string
	ModelID     string
	AspectRatio string
	Style       models.Style
}

// AssetResult is a stored image. Asset is nil for transient generations and
// when recording the asset failed; Warning then holds the persistence error.
type AssetResult struct {
	StorageRef string
	URL        string
	Asset      *models.Asset
	Warning    error
}

// AssetGenerator turns a prompt into a stored image and, for projects, an
// asset row with the next free ordinal
type AssetGenerator struct {
	images    providers.ImageProvider
	client    httpclient.Client
	store     storage.Storage
	repo      AssetRepository
	maxAssets int
	workDir   string
	logger    *zap.Logger
}

// NewAssetGenerator creates an asset generator
func NewAssetGenerator(images providers.ImageProvider, client httpclient.Client, store storage.Storage, repo AssetRepository, maxAssets int, workDir string, logger *zap.Logger) *AssetGenerator {
	if maxAssets <= 0 {
		maxAssets = 5
	}
	return &AssetGenerator{
		images:    images,
		client:    client,
		store:     store,
		repo:      repo,
		maxAssets: maxAssets,
		workDir:   workDir,
		logger:    logger.With(zap.String("component", "asset_generator")),
	}
}

// GenerateAsset generates, stores and records one image
func (g *AssetGenerator) GenerateAsset(ctx context.Context, req AssetRequest) (*AssetResult, error) {
	const op = "asset.generate"
	if req.Prompt == "" {
		return nil, utils.NewValidationError("prompt", "is required")
	}

	// refuse before paying for a generation that cannot be recorded
	if req.ProjectID != "" {
		existing, err := g.repo.ListAssets(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if len(existing) >= g.maxAssets {
			return nil, utils.Errorf(utils.KindValidation, op, "project already has %d assets", g.maxAssets)
		}
	}

	media, err := g.generateWithRetry(ctx, providers.ImageRequest{
		Prompt:      req.Prompt,
		ModelID:     req.ModelID,
		AspectRatio: req.AspectRatio,
		Style:       req.Style,
	})
	if err != nil {
		return nil, err
	}

	workDir, err := utils.NewWorkspace(g.workDir, "asset-")
	if err != nil {
		return nil, utils.E(utils.KindInternal, op, err)
	}
	defer utils.CleanupWorkspace(g.workDir, workDir)

	format := media.Format
	if format == "" {
		format = "png"
	}
	local := filepath.Join(workDir, "image."+format)
	if err := g.fetchWithRetry(ctx, media, local); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := AssetKey(req.ProjectID, id, format)
	if err := g.uploadWithRetry(ctx, local, key); err != nil {
		return nil, err
	}

	result := &AssetResult{StorageRef: key, URL: g.store.URL(key)}
	if req.ProjectID == "" {
		return result, nil
	}

	projectID := req.ProjectID
	asset := &models.Asset{
		ID:         id,
		ProjectID:  &projectID,
		Kind:       models.AssetImage,
		Prompt:     req.Prompt,
		StorageRef: key,
	}
	if err := g.repo.CreateAsset(ctx, asset, g.maxAssets); err != nil {
		result.Warning = utils.E(utils.KindPersistenceWarning, op, err)
		g.logger.Warn("Asset stored but not recorded",
			zap.String("project_id", projectID),
			zap.String("key", key),
			zap.Error(err))
		return result, nil
	}

	result.Asset = asset
	g.logger.Info("Asset generated",
		zap.String("project_id", projectID),
		zap.String("asset_id", asset.ID),
		zap.Int("asset_number", asset.AssetNumber))
	return result, nil
}

func (g *AssetGenerator) generateWithRetry(ctx context.Context, req providers.ImageRequest) (*providers.Media, error) {
	media, err := g.images.GenerateImage(ctx, req)
	if err != nil && utils.IsRetryable(err) && ctx.Err() == nil {
		g.logger.Debug("Retrying image generation", zap.Error(err))
		media, err = g.images.GenerateImage(ctx, req)
	}
	return media, err
}

func (g *AssetGenerator) fetchWithRetry(ctx context.Context, media *providers.Media, local string) error {
	err := providers.Fetch(ctx, g.client, media, local)
	if err != nil && utils.IsRetryable(err) {
		g.logger.Debug("Retrying asset download", zap.Error(err))
		err = providers.Fetch(ctx, g.client, media, local)
	}
	return err
}

func (g *AssetGenerator) uploadWithRetry(ctx context.Context, local, key string) error {
	const op = "asset.upload"
	err := g.store.UploadObject(ctx, local, key)
	if err != nil && ctx.Err() == nil {
		g.logger.Debug("Retrying asset upload", zap.String("key", key), zap.Error(err))
		err = g.store.UploadObject(ctx, local, key)
	}
	if err != nil {
		return uploadError(op, err)
	}
	return nil
}
