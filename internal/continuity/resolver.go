package continuity

import (
	"scenecraft/internal/models"
	"scenecraft/pkg/utils"
)

// Flags are the pipeline-level continuity switches of a project
type Flags struct {
	Continuous        bool
	UseReferenceFrame bool
}

// InputKind says which continuity input a scene receives
type InputKind string

const (
	InputNone  InputKind = "none"
	InputClip  InputKind = "clip"
	InputFrame InputKind = "frame"
)

// Inputs are the continuity inputs handed to the scene generator. Refs are
// object keys or absolute URLs.
type Inputs struct {
	Kind                 InputKind
	PreviousClipRef      string
	PreviousLastFrameRef string
}

// ResolveInputs picks the continuity input for scene given its predecessor.
// previous is nil for the first scene.
func ResolveInputs(scene models.Scene, previous *models.Scene, flags Flags) Inputs {
	if previous == nil || scene.SceneNumber <= 1 {
		return Inputs{Kind: InputNone}
	}

	if scene.ExtendPrevious && previous.HasClip() {
		return Inputs{Kind: InputClip, PreviousClipRef: previous.ClipRef}
	}

	if flags.Continuous && previous.Status == models.SceneCompleted && previous.LastFrameRef != "" {
		return Inputs{Kind: InputFrame, PreviousLastFrameRef: previous.LastFrameRef}
	}

	return Inputs{Kind: InputNone}
}

// ResolveReferences maps the scene's selected asset ids to storage refs, in
// selection order. Only explicitly selected assets are returned. An id that
// does not belong to the project is a validation error.
func ResolveReferences(selected []string, projectAssets map[string]string) ([]string, error) {
	refs := make([]string, 0, len(selected))
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if seen[id] {
			continue
		}
		seen[id] = true

		ref, ok := projectAssets[id]
		if !ok {
			return nil, utils.Errorf(utils.KindValidation, "continuity.ResolveReferences",
				"selected asset %s does not belong to the project", id)
		}
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
