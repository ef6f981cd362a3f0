package continuity

import (
	"sort"

	"scenecraft/internal/models"
	"scenecraft/pkg/utils"
)

// Requirement is what a scene needs from its predecessors before it may start
type Requirement string

const (
	RequireNone      Requirement = ""
	RequireClip      Requirement = "clip"
	RequireLastFrame Requirement = "last_frame"
)

// Node is one scene in the dependency graph
type Node struct {
	SceneNumber int
	// Predecessors are indices into Graph.Nodes, always lower than the node's own index
	Predecessors []int
	Requirement  Requirement
}

// Graph is the scene dependency DAG, nodes ordered by scene number
type Graph struct {
	Nodes []Node
}

// BuildGraph derives dependency edges from the scenes' extendPrevious flags
// and the continuous mode. Scene numbers must be contiguous from 1.
func BuildGraph(scenes []models.Scene, flags Flags) (*Graph, error) {
	sorted := make([]models.Scene, len(scenes))
	copy(sorted, scenes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SceneNumber < sorted[j].SceneNumber })

	g := &Graph{Nodes: make([]Node, len(sorted))}
	for i, scene := range sorted {
		if scene.SceneNumber != i+1 {
			return nil, utils.Errorf(utils.KindValidation, "continuity.BuildGraph",
				"scene numbers must be contiguous from 1, found %d at position %d", scene.SceneNumber, i+1)
		}

		node := Node{SceneNumber: scene.SceneNumber}
		if i > 0 {
			switch {
			case scene.ExtendPrevious:
				node.Requirement = RequireClip
			case flags.Continuous:
				node.Requirement = RequireLastFrame
			}
			if node.Requirement != RequireNone {
				node.Predecessors = []int{i - 1}
			}
		}
		g.Nodes[i] = node
	}
	return g, nil
}

// Validate checks that every predecessor index points at an earlier node
func (g *Graph) Validate() error {
	for i, n := range g.Nodes {
		for _, p := range n.Predecessors {
			if p < 0 || p >= i {
				return utils.Errorf(utils.KindInternal, "continuity.Validate",
					"node %d has invalid predecessor %d", i, p)
			}
		}
	}
	return nil
}

// Satisfied reports whether a finished predecessor provides what req needs
func Satisfied(req Requirement, clipRef, lastFrameRef string) bool {
	switch req {
	case RequireClip:
		return clipRef != ""
	case RequireLastFrame:
		return lastFrameRef != ""
	default:
		return true
	}
}
