package hierarchy

import (
	"sort"

	masterdata "meterflow/internal/masterdata/domain"
)

// Depths holds the computed subtree depth per meter id.
type Depths map[string]int

// Ordering is the result of ordering parent meters bottom-up.
type Ordering struct {
	Parents  []masterdata.Meter
	Depths   Depths
	Revisits int
}

// Order sorts parent meters ascending by subtree depth so every parent is
// aggregated after all of its descendant parents. A node revisited during
// descent contributes depth 0 rather than recursing forever; Revisits counts
// how often that happened so callers can log a malformed graph.
func Order(parents []masterdata.Meter, children map[string][]string) Ordering {
	depths := make(Depths, len(parents))
	revisits := 0

	var depthOf func(id string, visiting map[string]bool) int
	depthOf = func(id string, visiting map[string]bool) int {
		if d, ok := depths[id]; ok {
			return d
		}
		if visiting[id] {
			revisits++
			return 0
		}
		visiting[id] = true
		defer delete(visiting, id)

		kids := children[id]
		if len(kids) == 0 {
			depths[id] = 0
			return 0
		}
		max := 0
		for _, child := range kids {
			if d := depthOf(child, visiting); d > max {
				max = d
			}
		}
		depths[id] = max + 1
		return max + 1
	}

	for _, parent := range parents {
		depthOf(parent.ID, map[string]bool{})
	}

	ordered := make([]masterdata.Meter, len(parents))
	copy(ordered, parents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depths[ordered[i].ID] < depths[ordered[j].ID]
	})

	return Ordering{Parents: ordered, Depths: depths, Revisits: revisits}
}

// SplitLeavesAndParents partitions a site's meters by whether they have
// children in the connection graph.
func SplitLeavesAndParents(meters []masterdata.Meter, children map[string][]string) (leaves, parents []masterdata.Meter) {
	for _, meter := range meters {
		if len(children[meter.ID]) > 0 {
			parents = append(parents, meter)
		} else {
			leaves = append(leaves, meter)
		}
	}
	return leaves, parents
}

// IsParent reports whether a meter has children in the graph.
func IsParent(meterID string, children map[string][]string) bool {
	return len(children[meterID]) > 0
}
