package planner

import (
	"math"
	"strings"

	"scenecraft/internal/models"
)

// MaxSceneSeconds is the most generated footage a single scene may carry
const MaxSceneSeconds = 8

// SceneCountRange returns the inclusive scene count bounds for a duration.
// Past 60s the upper bound is the count needed at MaxSceneSeconds per scene,
// kept within 8..15.
func SceneCountRange(durationSeconds int) (min, max int) {
	switch {
	case durationSeconds <= 30:
		return 3, 5
	case durationSeconds <= 60:
		return 5, 8
	}
	max = int(math.Ceil(float64(durationSeconds) / MaxSceneSeconds))
	if max < 8 {
		max = 8
	}
	if max > 15 {
		max = 15
	}
	return 8, max
}

// TargetSceneCount is the count the planner asks for: enough scenes to keep
// each one at or under MaxSceneSeconds, clamped to SceneCountRange
func TargetSceneCount(durationSeconds int) int {
	min, max := SceneCountRange(durationSeconds)
	n := int(math.Ceil(float64(durationSeconds) / MaxSceneSeconds))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// PlannedScene is one scene of a script
type PlannedScene struct {
	SceneNumber int     `json:"sceneNumber"`
	Prompt      string  `json:"prompt"`
	Duration    float64 `json:"duration"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
}

// Script is a planned project: narrative text plus ordered scenes
type Script struct {
	Script string         `json:"script"`
	Scenes []PlannedScene `json:"scenes"`
}

// Normalize enforces the scene invariants on planner output: empty prompts
// are dropped, scenes beyond the range maximum are cut, numbers run 1..N,
// every duration is positive and capped at maxSceneSeconds, and start/end
// times are cumulative.
func Normalize(scenes []PlannedScene, durationSeconds int, maxSceneSeconds float64) []PlannedScene {
	if maxSceneSeconds <= 0 || maxSceneSeconds > MaxSceneSeconds {
		maxSceneSeconds = MaxSceneSeconds
	}

	kept := make([]PlannedScene, 0, len(scenes))
	for _, s := range scenes {
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.Prompt != "" {
			kept = append(kept, s)
		}
	}
	if _, max := SceneCountRange(durationSeconds); len(kept) > max {
		kept = kept[:max]
	}
	if len(kept) == 0 {
		return kept
	}

	even := math.Min(float64(durationSeconds)/float64(len(kept)), maxSceneSeconds)
	if even <= 0 {
		even = maxSceneSeconds
	}

	var cursor float64
	for i := range kept {
		d := kept[i].Duration
		if d <= 0 {
			d = even
		}
		d = math.Min(d, maxSceneSeconds)

		kept[i].SceneNumber = i + 1
		kept[i].Duration = d
		kept[i].StartTime = cursor
		kept[i].EndTime = cursor + d
		cursor += d
	}
	return kept
}

// ToModels converts planned scenes into scene rows for a project
func ToModels(projectID string, scenes []PlannedScene) []models.Scene {
	out := make([]models.Scene, 0, len(scenes))
	for _, s := range scenes {
		out = append(out, models.Scene{
			ProjectID:       projectID,
			SceneNumber:     s.SceneNumber,
			Prompt:          s.Prompt,
			DurationSeconds: s.Duration,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			Status:          models.ScenePending,
		})
	}
	return out
}

// FromModels converts stored scenes back into a script listing
func FromModels(scenes []models.Scene) []PlannedScene {
	out := make([]PlannedScene, 0, len(scenes))
	for _, s := range scenes {
		out = append(out, PlannedScene{
			SceneNumber: s.SceneNumber,
			Prompt:      s.Prompt,
			Duration:    s.DurationSeconds,
			StartTime:   s.StartTime,
			EndTime:     s.EndTime,
		})
	}
	return out
}
