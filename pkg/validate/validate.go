// ABOUTME: Validator gating commits of reconciled revisions
// ABOUTME: Blocking structural and preservation checks plus a soft similarity floor

package validate

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/vector"
)

const (
	// DefaultUnitEpsilon is the tolerance on combined vector norms
	DefaultUnitEpsilon = 1e-4

	// DefaultRegressionFloor is the minimum document similarity across a revision
	// whose whole-document text did not change
	DefaultRegressionFloor = 0.98
)

// Check names
const (
	CheckEdges        = "edge_endpoints"
	CheckPreservation = "preservation"
	CheckUnitNorm     = "unit_norm"
	CheckOrphans      = "orphan_concepts"
	CheckRegression   = "document_regression"
)

// Finding is one failed check on one node or edge
type Finding struct {
	Check   string `json:"check"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// Report is the outcome of validating one revision
type Report struct {
	RevisionID         string    `json:"revision_id"`
	Fatal              []Finding `json:"fatal,omitempty"`
	Warnings           []Finding `json:"warnings,omitempty"`
	DocumentSimilarity float64   `json:"document_similarity"`
	NodesChecked       int       `json:"nodes_checked"`
	EdgesChecked       int       `json:"edges_checked"`
}

// OK reports whether no blocking check failed
func (r *Report) OK() bool {
	return len(r.Fatal) == 0
}

// Err returns ErrValidationFailed describing the first fatal finding, or nil
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	f := r.Fatal[0]
	return fmt.Errorf("%w: %d fatal findings, first %s on %q: %s", errs.ErrValidationFailed, len(r.Fatal), f.Check, f.NodeID, f.Message)
}

func (r *Report) fatal(check, id, format string, args ...any) {
	r.Fatal = append(r.Fatal, Finding{Check: check, NodeID: id, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warn(check, id, format string, args ...any) {
	r.Warnings = append(r.Warnings, Finding{Check: check, NodeID: id, Message: fmt.Sprintf(format, args...)})
}

// Validator checks reconciled revisions
type Validator struct {
	UnitEpsilon     float64
	RegressionFloor float64
}

// New creates a validator with default tolerances
func New() *Validator {
	return &Validator{UnitEpsilon: DefaultUnitEpsilon, RegressionFloor: DefaultRegressionFloor}
}

// Validate checks next against previous. Only edge, preservation, norm and
// orphan findings block; the regression check only warns. previous, cs and m
// may be nil for a first revision.
func (v *Validator) Validate(next, previous *hierarchy.Hierarchy, cs *change.ChangeSet, m *impact.Map) (*Report, error) {
	r := &Report{RevisionID: next.RevisionID, NodesChecked: next.LiveCount(), EdgesChecked: len(next.Edges)}

	v.edges(r, next)
	if previous != nil && m != nil && !m.Full {
		if err := v.preservation(r, next, previous, m); err != nil {
			return r, err
		}
	}
	v.norms(r, next)
	v.orphans(r, next)
	if previous != nil && cs != nil && cs.DocumentImpact == change.Unchanged {
		v.regression(r, next, previous)
	}

	return r, r.Err()
}

func (v *Validator) edges(r *Report, h *hierarchy.Hierarchy) {
	for _, e := range h.Edges {
		for _, id := range []string{e.From, e.To} {
			n, ok := h.Node(id)
			switch {
			case !ok:
				r.fatal(CheckEdges, id, "%s edge %s->%s has a missing endpoint", e.Type, e.From, e.To)
			case !n.Live():
				r.fatal(CheckEdges, id, "%s edge %s->%s has a tombstoned endpoint", e.Type, e.From, e.To)
			}
		}
	}
}

// preservation requires every node the impact map left at None to be carried
// over byte for byte, revision id aside
func (v *Validator) preservation(r *Report, next, previous *hierarchy.Hierarchy, m *impact.Map) error {
	for _, id := range previous.LiveIDs() {
		if m.Level(id) != impact.None {
			continue
		}
		got, ok := next.Node(id)
		if !ok {
			r.fatal(CheckPreservation, id, "unaffected node is missing")
			continue
		}
		same, err := sameRecord(previous.Nodes[id], got)
		if err != nil {
			return err
		}
		if !same {
			r.fatal(CheckPreservation, id, "unaffected node changed")
		}
	}
	return nil
}

func sameRecord(a, b *hierarchy.Node) (bool, error) {
	ca, cb := a.Clone(), b.Clone()
	ca.RevisionID, cb.RevisionID = "", ""
	ja, err := json.Marshal(ca)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", a.ID, err)
	}
	jb, err := json.Marshal(cb)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", b.ID, err)
	}
	return bytes.Equal(ja, jb), nil
}

func (v *Validator) norms(r *Report, h *hierarchy.Hierarchy) {
	eps := v.UnitEpsilon
	if eps <= 0 {
		eps = DefaultUnitEpsilon
	}
	for _, id := range h.LiveIDs() {
		n := h.Nodes[id]
		if !vector.IsUnit(n.Vector, eps) {
			r.fatal(CheckUnitNorm, id, "norm %.6f", vector.Norm(n.Vector))
		}
	}
}

func (v *Validator) orphans(r *Report, h *hierarchy.Hierarchy) {
	for _, id := range h.Concepts() {
		live := 0
		for _, e := range h.Mentions(id) {
			if n, ok := h.Node(e.To); ok && n.Live() {
				live++
			}
		}
		if live == 0 {
			r.fatal(CheckOrphans, id, "concept has no live mentions")
		}
	}
}

func (v *Validator) regression(r *Report, next, previous *hierarchy.Hierarchy) {
	floor := v.RegressionFloor
	if floor <= 0 {
		floor = DefaultRegressionFloor
	}
	a, okA := previous.Node(previous.RootID)
	b, okB := next.Node(next.RootID)
	if !okA || !okB {
		return
	}
	r.DocumentSimilarity = vector.Cosine(a.Vector, b.Vector)
	if r.DocumentSimilarity < floor {
		r.warn(CheckRegression, next.RootID, "document similarity %.4f below floor %.4f", r.DocumentSimilarity, floor)
	}
}
