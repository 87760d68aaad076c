package hierarchy

import "github.com/nainya/boltindex/pkg/vector"

// SiblingEdges links adjacent live sections whose combined vectors have cosine
// similarity above threshold; strength is the similarity.
func SiblingEdges(h *Hierarchy, threshold float64) []Edge {
	sections := h.Sections()
	var out []Edge
	for i := 1; i < len(sections); i++ {
		a, b := h.Nodes[sections[i-1]], h.Nodes[sections[i]]
		sim := vector.Cosine(a.Vector, b.Vector)
		if sim > threshold {
			out = append(out, Edge{From: a.ID, To: b.ID, Type: Sibling, Strength: min(sim, 1)})
		}
	}
	return out
}
