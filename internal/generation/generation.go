package generation

import (
	"context"
	"errors"
	"path"

	"scenecraft/internal/models"
	"scenecraft/pkg/ffmpeg"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// MediaTool is the subset of ffmpeg the generators need
type MediaTool interface {
	Probe(ctx context.Context, filePath string) (*ffmpeg.ClipMetadata, error)
	ExtractFirstFrame(ctx context.Context, videoPath, imagePath string) error
	ExtractLastFrame(ctx context.Context, videoPath, imagePath string) error
}

// AssetRepository persists generated assets
type AssetRepository interface {
	ListAssets(ctx context.Context, projectID string) ([]models.Asset, error)
	CreateAsset(ctx context.Context, asset *models.Asset, maxAssets int) error
}

// MusicRepository records a project's music track
type MusicRepository interface {
	SetMusic(ctx context.Context, projectID, musicRef string) error
}

// Object keys. Scene objects are keyed by the scene row id, which survives
// renumbering, so regenerating a scene overwrites only its own objects.

func SceneClipKey(projectID, sceneID string) string {
	return path.Join("projects", projectID, "scenes", sceneID, "clip.mp4")
}

func SceneFirstFrameKey(projectID, sceneID string) string {
	return path.Join("projects", projectID, "scenes", sceneID, "first.jpg")
}

func SceneLastFrameKey(projectID, sceneID string) string {
	return path.Join("projects", projectID, "scenes", sceneID, "last.jpg")
}

func AssetKey(projectID, id, format string) string {
	if projectID == "" {
		return path.Join("transient", "assets", id+"."+format)
	}
	return path.Join("projects", projectID, "assets", id+"."+format)
}

func MusicKey(projectID, id, format string) string {
	return path.Join("projects", projectID, "music", id+"."+format)
}

// URLFor returns a fetchable URL for a stored ref. Absolute URLs pass
// through unchanged.
func URLFor(store storage.Storage, ref string) string {
	if ref == "" || utils.IsRemoteURL(ref) {
		return ref
	}
	return store.URL(ref)
}

// uploadError classifies an object store write failure
func uploadError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return utils.E(utils.KindCancelled, op, err)
	}
	return utils.E(utils.KindUploadFailed, op, err)
}
