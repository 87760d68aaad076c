// ABOUTME: Reconciler restoring cross-node consistency on a candidate revision
// ABOUTME: Cleans stale edges, recomputes Sibling and Appears edges, checks dimensions

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/update"
)

// Result is a reconciled revision
type Result struct {
	Hierarchy *hierarchy.Hierarchy
	// Impact extends the candidate's impact map with the concepts the
	// reconciler re-scored, created or tombstoned
	Impact      *impact.Map
	Regenerated map[string]bool

	DroppedEdges int
	Siblings     int
	Created      []string
	Rescored     []string
	Tombstoned   []string
}

// Reconciler finishes a candidate revision
type Reconciler struct {
	Builder *hierarchy.Builder
	Logger  *logger.Logger
}

// New creates a reconciler using the builder's policy and thresholds
func New(b *hierarchy.Builder, log *logger.Logger) *Reconciler {
	return &Reconciler{Builder: b, Logger: log}
}

// Reconcile mutates the candidate's hierarchy in place and returns it with
// the adjusted impact map. A dimension mismatch is fatal.
func (r *Reconciler) Reconcile(ctx context.Context, c *update.Candidate) (*Result, error) {
	start := time.Now()
	h := c.Hierarchy
	res := &Result{
		Hierarchy:   h,
		Impact:      c.Impact.Clone(),
		Regenerated: make(map[string]bool, len(c.Regenerated)),
	}
	for id := range c.Regenerated {
		res.Regenerated[id] = true
	}

	res.DroppedEdges = h.RemoveEdges(func(e hierarchy.Edge) bool {
		return !live(h, e.From) || !live(h, e.To)
	})

	if err := checkDimensions(h, r.Builder.Policy); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.RemoveEdges(func(e hierarchy.Edge) bool { return e.Type == hierarchy.Sibling })
	for _, e := range hierarchy.SiblingEdges(h, r.siblingThreshold()) {
		if err := h.AddEdge(e); err != nil {
			return nil, err
		}
		res.Siblings++
	}

	if err := r.concepts(c, res); err != nil {
		return nil, err
	}

	if err := h.CheckForest(); err != nil {
		return nil, err
	}

	r.Logger.StageLogger("reconcile").Debug("candidate reconciled").
		Str("revision_id", h.RevisionID).
		Int("dropped_edges", res.DroppedEdges).
		Int("siblings", res.Siblings).
		Int("concepts_created", len(res.Created)).
		Int("concepts_rescored", len(res.Rescored)).
		Int("concepts_tombstoned", len(res.Tombstoned)).
		Dur("duration", time.Since(start)).
		Send()
	return res, nil
}

func (r *Reconciler) siblingThreshold() float64 {
	if r.Builder.SiblingThreshold <= 0 {
		return hierarchy.DefaultSiblingThreshold
	}
	return r.Builder.SiblingThreshold
}

func (r *Reconciler) minMentions() int {
	if r.Builder.MinMentions <= 0 {
		return hierarchy.DefaultMinMentions
	}
	return r.Builder.MinMentions
}

// concepts re-derives the concept set from the live paragraphs. A concept is
// rebuilt when its mentions or saliences changed or when a mentioning
// paragraph was regenerated; concepts no longer mentioned often enough are
// tombstoned.
func (r *Reconciler) concepts(c *update.Candidate, res *Result) error {
	h := c.Hierarchy
	want := hierarchy.ExtractConcepts(c.SpanText, r.minMentions())
	seen := make(map[string]bool, len(want))

	for _, cm := range want {
		id := hierarchy.ConceptID(cm.Term)
		seen[id] = true
		existing, ok := h.Node(id)
		if ok && existing.Live() && !r.stale(h, cm, res.Regenerated) {
			continue
		}

		supersedes := ""
		if prev, had := c.Previous.Node(id); had {
			supersedes = prev.RevisionID
		}
		h.RemoveEdges(func(e hierarchy.Edge) bool { return e.Type == hierarchy.Appears && e.From == id })
		if _, err := r.Builder.AddConcept(h, cm, supersedes); err != nil {
			return err
		}
		res.Regenerated[id] = true
		res.Impact.Raise(id, impact.Propagated)
		if ok && existing.Live() {
			res.Rescored = append(res.Rescored, id)
		} else {
			res.Created = append(res.Created, id)
		}
	}

	for _, id := range h.Concepts() {
		if seen[id] {
			continue
		}
		n := h.Nodes[id]
		t := n.Clone()
		if prev, had := c.Previous.Node(id); had {
			t.Supersedes = prev.RevisionID
		}
		t.RevisionID = h.RevisionID
		t.Tombstoned = true
		h.PutNode(t)
		h.RemoveEdges(func(e hierarchy.Edge) bool { return e.From == id || e.To == id })
		res.Impact.Raise(id, impact.Propagated)
		res.Tombstoned = append(res.Tombstoned, id)
	}
	return nil
}

// stale reports whether the stored concept no longer matches cm
func (r *Reconciler) stale(h *hierarchy.Hierarchy, cm hierarchy.ConceptMentions, regenerated map[string]bool) bool {
	edges := h.Mentions(hierarchy.ConceptID(cm.Term))
	if len(edges) != len(cm.Mentions) {
		return true
	}
	current := make(map[string]float64, len(edges))
	for _, e := range edges {
		current[e.To] = e.Strength
	}
	for _, m := range cm.Mentions {
		s, ok := current[m.NodeID]
		if !ok || s != m.Salience || regenerated[m.NodeID] {
			return true
		}
	}
	return false
}

func live(h *hierarchy.Hierarchy, id string) bool {
	n, ok := h.Node(id)
	return ok && n.Live()
}

func checkDimensions(h *hierarchy.Hierarchy, p combiner.Policy) error {
	out := p.OutputDim(h.Dimension)
	for _, id := range h.LiveIDs() {
		n := h.Nodes[id]
		if len(n.Vector) != out {
			return fmt.Errorf("node %s: %w", id, errs.Dimension("combined vector", out, len(n.Vector)))
		}
		for name, v := range map[string][]float32{
			"structural": n.Views.Structural,
			"semantic":   n.Views.Semantic,
			"pragmatic":  n.Views.Pragmatic,
		} {
			if len(v) != h.Dimension {
				return fmt.Errorf("node %s: %w", id, errs.Dimension(name+" view", h.Dimension, len(v)))
			}
		}
	}
	return nil
}
