package hierarchy

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/nainya/boltindex/pkg/errs"
)

// Hierarchy is the node/edge graph of one document revision
type Hierarchy struct {
	RevisionID       string
	DocumentID       string
	ParentRevisionID string
	RootID           string
	Dimension        int // view vector dimension
	NextSeq          uint64
	CreatedAt        time.Time
	Nodes            map[string]*Node
	Edges            []Edge

	parent   map[string]string
	children map[string][]string
	adj      map[string][]int
}

// New creates an empty hierarchy
func New(documentID, revisionID string, dim int) *Hierarchy {
	h := &Hierarchy{
		RevisionID: revisionID,
		DocumentID: documentID,
		Dimension:  dim,
		Nodes:      make(map[string]*Node),
	}
	h.Reindex()
	return h
}

// NewID allocates a fresh node id for g
func (h *Hierarchy) NewID(g Granularity) string {
	id := fmt.Sprintf("%s-%d", shortName(g), h.NextSeq)
	h.NextSeq++
	return id
}

func shortName(g Granularity) string {
	switch g {
	case Document:
		return "doc"
	case Section:
		return "sec"
	case Paragraph:
		return "para"
	case Concept:
		return "concept"
	default:
		return "rel"
	}
}

// Reindex rebuilds the parent, children and adjacency indexes from Edges.
// Call after replacing Edges wholesale or after decoding.
func (h *Hierarchy) Reindex() {
	h.parent = make(map[string]string)
	h.children = make(map[string][]string)
	h.adj = make(map[string][]int)
	for i, e := range h.Edges {
		h.index(i, e)
	}
}

func (h *Hierarchy) index(i int, e Edge) {
	if e.Type == Contains {
		h.parent[e.To] = e.From
		h.children[e.From] = append(h.children[e.From], e.To)
	}
	h.adj[e.From] = append(h.adj[e.From], i)
	if e.To != e.From {
		h.adj[e.To] = append(h.adj[e.To], i)
	}
}

// AddNode inserts a node; ids are unique within a revision
func (h *Hierarchy) AddNode(n *Node) error {
	if _, ok := h.Nodes[n.ID]; ok {
		return fmt.Errorf("node %s: %w: duplicate id", n.ID, errs.ErrInvalidEdge)
	}
	h.Nodes[n.ID] = n
	if n.Granularity == Document && h.RootID == "" && n.Live() {
		h.RootID = n.ID
	}
	return nil
}

// PutNode inserts or replaces a node record
func (h *Hierarchy) PutNode(n *Node) {
	h.Nodes[n.ID] = n
	if n.Granularity == Document && n.Live() {
		h.RootID = n.ID
	}
}

// AddEdge inserts an edge, enforcing single parent and acyclicity for Contains,
// a shared parent for Sibling and concept-to-span direction for Appears.
func (h *Hierarchy) AddEdge(e Edge) error {
	from, ok := h.Nodes[e.From]
	if !ok {
		return fmt.Errorf("edge %s->%s: %w: missing source", e.From, e.To, errs.ErrInvalidEdge)
	}
	to, ok := h.Nodes[e.To]
	if !ok {
		return fmt.Errorf("edge %s->%s: %w: missing target", e.From, e.To, errs.ErrInvalidEdge)
	}
	if e.Strength < 0 || e.Strength > 1 {
		return fmt.Errorf("edge %s->%s: %w: strength %f", e.From, e.To, errs.ErrInvalidEdge, e.Strength)
	}

	switch e.Type {
	case Contains:
		if e.From == e.To {
			return fmt.Errorf("contains %s: %w: self loop", e.From, errs.ErrStructuralCycle)
		}
		if p, ok := h.parent[e.To]; ok {
			return fmt.Errorf("contains %s->%s: %w: already contained by %s", e.From, e.To, errs.ErrStructuralCycle, p)
		}
		for cur, ok := e.From, true; ok; cur, ok = h.parent[cur] {
			if cur == e.To {
				return fmt.Errorf("contains %s->%s: %w", e.From, e.To, errs.ErrStructuralCycle)
			}
		}
	case Sibling:
		pf, okf := h.parent[e.From]
		pt, okt := h.parent[e.To]
		if e.From == e.To || !okf || !okt || pf != pt {
			return fmt.Errorf("sibling %s-%s: %w: no shared parent", e.From, e.To, errs.ErrInvalidEdge)
		}
	case Appears:
		if from.Granularity != Concept || to.Granularity == Concept {
			return fmt.Errorf("appears %s->%s: %w: must run concept to span", e.From, e.To, errs.ErrInvalidEdge)
		}
	default:
		return fmt.Errorf("edge %s->%s: %w: type %d", e.From, e.To, errs.ErrInvalidEdge, int(e.Type))
	}

	h.Edges = append(h.Edges, e)
	h.index(len(h.Edges)-1, e)
	return nil
}

// RemoveEdges drops every edge matching drop and returns how many were removed
func (h *Hierarchy) RemoveEdges(drop func(Edge) bool) int {
	before := len(h.Edges)
	h.Edges = slices.DeleteFunc(h.Edges, drop)
	h.Reindex()
	return before - len(h.Edges)
}

// Node looks up a node by id
func (h *Hierarchy) Node(id string) (*Node, bool) {
	n, ok := h.Nodes[id]
	return n, ok
}

// Parent returns the Contains parent of id
func (h *Hierarchy) Parent(id string) (string, bool) {
	p, ok := h.parent[id]
	return p, ok
}

// Children returns the Contains children of id in document order
func (h *Hierarchy) Children(id string) []string {
	return h.children[id]
}

// Sections returns the live sections under the root in document order
func (h *Hierarchy) Sections() []string {
	return h.liveChildren(h.RootID, Section)
}

// Paragraphs returns the live paragraphs of a section in document order
func (h *Hierarchy) Paragraphs(sectionID string) []string {
	return h.liveChildren(sectionID, Paragraph)
}

func (h *Hierarchy) liveChildren(id string, g Granularity) []string {
	var out []string
	for _, c := range h.children[id] {
		if n, ok := h.Nodes[c]; ok && n.Live() && n.Granularity == g {
			out = append(out, c)
		}
	}
	return out
}

// Mentions returns the Appears edges leaving a concept
func (h *Hierarchy) Mentions(conceptID string) []Edge {
	var out []Edge
	for _, i := range h.adj[conceptID] {
		if e := h.Edges[i]; e.Type == Appears && e.From == conceptID {
			out = append(out, e)
		}
	}
	return out
}

// MentionedBy returns the Appears edges arriving at a span
func (h *Hierarchy) MentionedBy(spanID string) []Edge {
	var out []Edge
	for _, i := range h.adj[spanID] {
		if e := h.Edges[i]; e.Type == Appears && e.To == spanID {
			out = append(out, e)
		}
	}
	return out
}

// Concepts returns live concept ids sorted
func (h *Hierarchy) Concepts() []string {
	var out []string
	for id, n := range h.Nodes {
		if n.Granularity == Concept && n.Live() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IDs returns every node id, live or not, sorted
func (h *Hierarchy) IDs() []string {
	out := make([]string, 0, len(h.Nodes))
	for id := range h.Nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LiveIDs returns live node ids sorted
func (h *Hierarchy) LiveIDs() []string {
	out := make([]string, 0, len(h.Nodes))
	for id, n := range h.Nodes {
		if n.Live() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// LiveCount returns the number of live nodes
func (h *Hierarchy) LiveCount() int {
	n := 0
	for _, node := range h.Nodes {
		if node.Live() {
			n++
		}
	}
	return n
}

// Ordinals assigns dense ordinals to the sorted node ids
func (h *Hierarchy) Ordinals() (map[string]uint32, []string) {
	ids := h.IDs()
	ord := make(map[string]uint32, len(ids))
	for i, id := range ids {
		ord[id] = uint32(i)
	}
	return ord, ids
}

// Clone returns a deep copy with rebuilt indexes
func (h *Hierarchy) Clone() *Hierarchy {
	out := &Hierarchy{
		RevisionID:       h.RevisionID,
		DocumentID:       h.DocumentID,
		ParentRevisionID: h.ParentRevisionID,
		RootID:           h.RootID,
		Dimension:        h.Dimension,
		NextSeq:          h.NextSeq,
		CreatedAt:        h.CreatedAt,
		Nodes:            make(map[string]*Node, len(h.Nodes)),
		Edges:            slices.Clone(h.Edges),
	}
	for id, n := range h.Nodes {
		out.Nodes[id] = n.Clone()
	}
	out.Reindex()
	return out
}

// CheckForest verifies that Contains edges form a forest rooted at Document nodes
func (h *Hierarchy) CheckForest() error {
	parents := make(map[string]string)
	for _, e := range h.Edges {
		if e.Type != Contains {
			continue
		}
		if p, ok := parents[e.To]; ok && p != e.From {
			return fmt.Errorf("%s has parents %s and %s: %w", e.To, p, e.From, errs.ErrStructuralCycle)
		}
		parents[e.To] = e.From
	}
	for id := range h.Nodes {
		seen := map[string]bool{id: true}
		cur := id
		for {
			p, ok := parents[cur]
			if !ok {
				break
			}
			if seen[p] {
				return fmt.Errorf("cycle through %s: %w", p, errs.ErrStructuralCycle)
			}
			seen[p] = true
			cur = p
		}
		if cur != id {
			if root := h.Nodes[cur]; root == nil || root.Granularity != Document {
				return fmt.Errorf("tree of %s rooted at non-document %s: %w", id, cur, errs.ErrStructuralCycle)
			}
		}
	}
	return nil
}
