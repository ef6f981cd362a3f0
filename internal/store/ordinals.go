package store

import (
	"reflect"
	"sort"

	"scenecraft/internal/models"
)

// NextFreeOrdinal returns the lowest ordinal in 1..max not in used. Gaps left
// by deletions are filled before appending.
func NextFreeOrdinal(used []int, max int) (int, bool) {
	taken := make(map[int]bool, len(used))
	for _, n := range used {
		taken[n] = true
	}
	for n := 1; n <= max; n++ {
		if !taken[n] {
			return n, true
		}
	}
	return 0, false
}

// Renumber assigns dense asset numbers 1..N keeping the current relative
// order. It returns asset id -> new number for the assets that moved.
func Renumber(assets []models.Asset) map[string]int {
	sorted := make([]models.Asset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].AssetNumber != sorted[j].AssetNumber {
			return sorted[i].AssetNumber < sorted[j].AssetNumber
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	changes := make(map[string]int)
	for i, a := range sorted {
		if a.AssetNumber != i+1 {
			changes[a.ID] = i + 1
		}
	}
	return changes
}

// MergeScenes reconciles the desired scene list with what is stored. A stored
// scene keeps its generated output when its prompt, selected assets and
// extendPrevious flag are unchanged and every scene it depends on kept its
// output too. Desired scenes are renumbered 1..N in the given order.
func MergeScenes(existing, desired []models.Scene, continuous bool) []models.Scene {
	byNumber := make(map[int]models.Scene, len(existing))
	for _, s := range existing {
		byNumber[s.SceneNumber] = s
	}

	out := make([]models.Scene, len(desired))
	prevKept := true
	for i, want := range desired {
		number := i + 1
		merged := want
		merged.SceneNumber = number
		merged.ProjectID = ""
		merged.ClipRef, merged.FirstFrameRef, merged.LastFrameRef = "", "", ""
		merged.Status = models.ScenePending
		merged.Error = ""

		kept := false
		if old, ok := byNumber[number]; ok {
			merged.ID = old.ID
			merged.CreatedAt = old.CreatedAt
			dependsOnPrev := number > 1 && (want.ExtendPrevious || continuous)
			if sameInputs(old, want) && old.HasClip() && (!dependsOnPrev || prevKept) {
				merged.ClipRef = old.ClipRef
				merged.FirstFrameRef = old.FirstFrameRef
				merged.LastFrameRef = old.LastFrameRef
				merged.Status = models.SceneCompleted
				kept = true
			}
		}
		prevKept = kept
		out[i] = merged
	}
	return out
}

func sameInputs(a, b models.Scene) bool {
	if a.Prompt != b.Prompt || a.ExtendPrevious != b.ExtendPrevious {
		return false
	}
	if len(a.SelectedAssetIDs) == 0 && len(b.SelectedAssetIDs) == 0 {
		return true
	}
	return reflect.DeepEqual([]string(a.SelectedAssetIDs), []string(b.SelectedAssetIDs))
}
