package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/reconcile"
	"github.com/nainya/boltindex/pkg/update"
	"github.com/nainya/boltindex/pkg/view"
)

const dim = 32

type run struct {
	prev    *hierarchy.Hierarchy
	next    *hierarchy.Hierarchy
	changes *change.ChangeSet
	impact  *impact.Map
}

func pipeline(t *testing.T, edit func(*document.Document)) run {
	t.Helper()
	ctx := context.Background()
	prev := &document.Document{
		ID:    "doc",
		Title: "Handbook",
		Sections: []document.Section{
			{Heading: "Leave", Paragraphs: []string{"Employees accrue leave monthly.", "Leave requests need approval."}},
			{Heading: "Expenses", Paragraphs: []string{"Receipts are required for expenses.", "Expenses are reimbursed monthly."}},
		},
	}
	next := prev.Clone()
	edit(next)

	gen := view.NewGenerator(analyzer.NewHashing(dim), dim)
	b := hierarchy.NewBuilder(combiner.DefaultPolicy(), dim)
	emb, err := gen.EmbedDocument(ctx, prev, 4)
	require.NoError(t, err)
	h, err := b.Build(prev, emb)
	require.NoError(t, err)

	cs, err := change.NewDetector(nil).Detect(ctx, prev, next, h)
	require.NoError(t, err)
	m, err := impact.NewPropagator().Propagate(cs, h)
	require.NoError(t, err)
	c, err := update.New(gen, b, 2, nil).Update(ctx, h, m, next)
	require.NoError(t, err)
	res, err := reconcile.New(b, nil).Reconcile(ctx, c)
	require.NoError(t, err)
	return run{prev: h, next: res.Hierarchy, changes: cs, impact: res.Impact}
}

func oneWordEdit(d *document.Document) {
	d.Sections[0].Paragraphs[0] = "Employees accrue leave weekly."
}

func checks(fs []Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Check)
	}
	return out
}

func TestCleanRevisionPasses(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	report, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, report.Warnings)
	assert.Equal(t, r.next.RevisionID, report.RevisionID)
	assert.Equal(t, r.next.LiveCount(), report.NodesChecked)
}

func TestFirstRevisionSkipsComparisons(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	report, err := New().Validate(r.prev, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestPreservationViolationBlocks(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	untouched := r.prev.Sections()[1]
	require.Equal(t, impact.None, r.impact.Level(untouched))
	r.next.Nodes[untouched].Features["tampered"] = 1

	report, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
	assert.Equal(t, []string{CheckPreservation}, checks(report.Fatal))
	assert.Equal(t, untouched, report.Fatal[0].NodeID)
}

func TestRevisionIDIsIgnoredByPreservation(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	for _, id := range r.next.LiveIDs() {
		r.next.Nodes[id].RevisionID = "something-else"
	}
	_, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	assert.NoError(t, err)
}

func TestDanglingEdgeBlocks(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	r.next.Edges = append(r.next.Edges, hierarchy.Edge{From: r.next.RootID, To: "ghost", Type: hierarchy.Sibling, Strength: 1})

	report, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
	assert.Equal(t, []string{CheckEdges}, checks(report.Fatal))
}

func TestNonUnitVectorBlocks(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	p := r.prev.Paragraphs(r.prev.Sections()[0])[0]
	for i := range r.next.Nodes[p].Vector {
		r.next.Nodes[p].Vector[i] *= 2
	}

	report, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
	assert.Equal(t, []string{CheckUnitNorm}, checks(report.Fatal))
}

func TestOrphanConceptBlocks(t *testing.T) {
	r := pipeline(t, oneWordEdit)
	leave := hierarchy.ConceptID("leave")
	r.next.RemoveEdges(func(e hierarchy.Edge) bool { return e.From == leave })

	report, err := New().Validate(r.next, r.prev, r.changes, r.impact)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
	assert.Equal(t, []string{CheckOrphans}, checks(report.Fatal))
	assert.Equal(t, leave, report.Fatal[0].NodeID)
}

func TestRegressionOnlyWarns(t *testing.T) {
	r := pipeline(t, func(*document.Document) {})
	require.Equal(t, change.Unchanged, r.changes.DocumentImpact)

	v := New()
	report, err := v.Validate(r.next, r.prev, r.changes, r.impact)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.DocumentSimilarity, 1e-6)
	assert.Empty(t, report.Warnings)

	root := r.next.Nodes[r.next.RootID]
	root.Vector = append([]float32(nil), r.next.Nodes[r.next.Sections()[1]].Vector...)
	report, err = v.Validate(r.next, r.prev, r.changes, nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{CheckRegression}, checks(report.Warnings))
	assert.Less(t, report.DocumentSimilarity, DefaultRegressionFloor)
}
