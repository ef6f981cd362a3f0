package orchestrator

import (
	"scenecraft/internal/continuity"
	"scenecraft/internal/models"
	"scenecraft/internal/scheduler"
	"scenecraft/pkg/utils"
)

// AspectRatios are the frame shapes the providers accept
var AspectRatios = []string{"16:9", "9:16", "1:1", "4:3", "3:4"}

// MaxDurationSeconds bounds a planned video
const MaxDurationSeconds = 600

// RunConfig is the validated configuration of one pipeline run. It is built
// once from the project row and passed to every stage.
type RunConfig struct {
	ProjectID       string
	Prompt          string
	Category        string
	Style           models.Style
	DurationSeconds int
	VideoModelID    string
	ImageModelID    string
	Flags           continuity.Flags
	Mode            scheduler.Mode
	AssetPrompts    []string
	MusicRef        string
	MusicVolume     float64
}

// NewRunConfig validates the project's settings and fills defaults
func NewRunConfig(p *models.Project, cfg Config) (RunConfig, error) {
	rc := RunConfig{
		ProjectID:       p.ID,
		Prompt:          p.Prompt,
		Category:        p.Category,
		Style:           p.Style,
		DurationSeconds: p.DurationSeconds,
		VideoModelID:    p.VideoModelID,
		ImageModelID:    p.ImageModelID,
		Flags:           continuity.Flags{Continuous: p.Continuous, UseReferenceFrame: p.UseReferenceFrame},
		Mode:            scheduler.ModeFor(p.Parallel),
		MusicRef:        p.MusicRef,
		MusicVolume:     p.MusicVolume,
	}
	for _, prompt := range p.AssetPrompts {
		if prompt != "" {
			rc.AssetPrompts = append(rc.AssetPrompts, prompt)
		}
	}

	if rc.VideoModelID == "" {
		rc.VideoModelID = cfg.DefaultVideoModel
	}
	if rc.ImageModelID == "" {
		rc.ImageModelID = cfg.DefaultImageModel
	}
	if rc.MusicVolume <= 0 {
		rc.MusicVolume = cfg.MusicVolume
	}
	if rc.Style.AspectRatio == "" {
		rc.Style.AspectRatio = "16:9"
	}

	return rc, rc.Validate(cfg.MaxAssets)
}

// Validate rejects settings no stage can run with
func (rc RunConfig) Validate(maxAssets int) error {
	if !validAspectRatio(rc.Style.AspectRatio) {
		return utils.NewValidationError("aspectRatio", "unsupported aspect ratio "+rc.Style.AspectRatio)
	}
	if rc.DurationSeconds < 0 || rc.DurationSeconds > MaxDurationSeconds {
		return utils.NewValidationError("durationSeconds", "must be between 1 and 600")
	}
	if maxAssets > 0 && len(rc.AssetPrompts) > maxAssets {
		return utils.NewValidationError("assetPrompts", "too many reference assets")
	}
	if rc.MusicVolume < 0 || rc.MusicVolume > 2 {
		return utils.NewValidationError("musicVolume", "must be between 0 and 2")
	}
	if rc.VideoModelID == "" {
		return utils.NewValidationError("videoModelId", "no video model configured")
	}
	return nil
}

func validAspectRatio(ratio string) bool {
	for _, r := range AspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}
