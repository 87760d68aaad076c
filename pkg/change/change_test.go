package change

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/view"
)

const dim = 32

func build(t *testing.T, doc *document.Document) *hierarchy.Hierarchy {
	t.Helper()
	gen := view.NewGenerator(analyzer.NewHashing(dim), dim)
	emb, err := gen.EmbedDocument(context.Background(), doc, 4)
	require.NoError(t, err)
	h, err := hierarchy.NewBuilder(combiner.DefaultPolicy(), dim).Build(doc, emb)
	require.NoError(t, err)
	return h
}

func twoByTwo() *document.Document {
	return &document.Document{
		ID:    "doc",
		Title: "Handbook",
		Sections: []document.Section{
			{Heading: "Leave", Paragraphs: []string{"Employees accrue leave monthly.", "Leave requests need approval."}},
			{Heading: "Expenses", Paragraphs: []string{"Receipts are required for expenses.", "Expenses are reimbursed monthly."}},
		},
	}
}

func TestOneWordEdit(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	next := prev.Clone()
	next.Sections[0].Paragraphs[0] = "Employees accrue leave weekly."

	cs, err := NewDetector(nil).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)

	sections := h.Sections()
	p11 := h.Paragraphs(sections[0])[0]
	assert.Equal(t, []string{p11}, cs.Changed())
	assert.Equal(t, Modified, cs.DocumentImpact)
	for _, id := range h.LiveIDs() {
		_, labelled := cs.PerNode[id]
		assert.True(t, labelled, id)
	}

	delta := cs.Semantic[p11]
	assert.Equal(t, "jaccard", delta.Source)
	assert.True(t, delta.Material)
	assert.InDelta(t, 1-3.0/5.0, delta.Magnitude, 1e-9)
	assert.Equal(t, delta.Magnitude, cs.Magnitude(p11))
	assert.Equal(t, 0.0, cs.Magnitude(sections[1]))
}

func TestAppendSection(t *testing.T) {
	prev := &document.Document{ID: "d", Title: "T", Sections: []document.Section{{Heading: "One", Paragraphs: []string{"Alpha text here."}}}}
	h := build(t, prev)
	next := prev.Clone()
	next.Sections = append(next.Sections, document.Section{Heading: "Two", Paragraphs: []string{"Beta text there."}})

	cs, err := NewDetector(nil).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)

	assert.Empty(t, cs.Changed())
	assert.Equal(t, Modified, cs.DocumentImpact)
	added, removed, matched := cs.Structural.Counts()
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, matched)

	parents, rootGained := cs.AddedParents()
	assert.Empty(t, parents)
	assert.True(t, rootGained)

	last := cs.Structural.Sections[1]
	assert.Equal(t, -1, last.Old)
	assert.Equal(t, 1, last.New)
	require.Len(t, last.Paragraphs, 1)
	assert.Equal(t, Added, last.Paragraphs[0].Impact)
}

func TestRenamedSectionPairsByBody(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	next := prev.Clone()
	next.Sections[1].Heading = "Reimbursement"

	cs, err := NewDetector(nil).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)

	sec := h.Sections()[1]
	assert.Equal(t, []string{sec}, cs.Changed())
	assert.Equal(t, Modified, cs.Impact(sec))
	assert.Equal(t, 1.0, cs.Semantic[sec].Magnitude)
	_, removed, _ := cs.Structural.Counts()
	assert.Equal(t, 0, removed)
}

func TestParagraphInsertAndRemove(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	next := prev.Clone()
	next.Sections[0].Paragraphs = []string{"Employees accrue leave monthly.", "A brand new rule.", "Leave requests need approval."}
	next.Sections[1].Paragraphs = next.Sections[1].Paragraphs[:1]

	cs, err := NewDetector(nil).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)

	s2 := h.Sections()[1]
	removed := h.Paragraphs(s2)[1]
	assert.Equal(t, []string{removed}, cs.Changed())
	assert.Equal(t, Removed, cs.Impact(removed))
	assert.Equal(t, 1.0, cs.Magnitude(removed))

	parents, rootGained := cs.AddedParents()
	assert.Equal(t, []string{h.Sections()[0]}, parents)
	assert.False(t, rootGained)

	first := cs.Structural.ByNewSection()[0]
	require.Len(t, first.Paragraphs, 3)
	assert.Equal(t, []TextImpact{Unchanged, Added, Unchanged},
		[]TextImpact{first.Paragraphs[0].Impact, first.Paragraphs[1].Impact, first.Paragraphs[2].Impact})
	assert.Equal(t, 2, first.Paragraphs[2].New)
}

func TestRemovedSectionLabelsChildren(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	next := prev.Clone()
	next.Sections = next.Sections[:1]

	cs, err := NewDetector(nil).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)

	s2 := h.Sections()[1]
	assert.Equal(t, Removed, cs.Impact(s2))
	for _, p := range h.Paragraphs(s2) {
		assert.Equal(t, Removed, cs.Impact(p))
	}
}

func TestIdenticalRevisionIsNoop(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)

	cs, err := NewDetector(nil).Detect(context.Background(), prev, prev.Clone(), h)
	require.NoError(t, err)
	assert.True(t, cs.IsNoop())
	assert.Empty(t, cs.Semantic)

	out, err := cs.TextDiff.Unified("a", "b", 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestInconsistentHierarchy(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	other := prev.Clone()
	other.Sections[0].Paragraphs[0] = "Something else entirely."

	_, err := NewDetector(nil).Detect(context.Background(), other, prev, h)
	assert.ErrorIs(t, err, errs.ErrInconsistent)
}

type fixedJudge struct {
	dist float64
	err  error
}

func (j fixedJudge) Distance(ctx context.Context, old, new string, g hierarchy.Granularity) (float64, error) {
	return j.dist, j.err
}

func TestJudgeDecidesMateriality(t *testing.T) {
	prev := twoByTwo()
	h := build(t, prev)
	next := prev.Clone()
	next.Sections[0].Paragraphs[0] = "Employees accrue leave monthly!"
	p11 := h.Paragraphs(h.Sections()[0])[0]

	cs, err := NewDetector(fixedJudge{dist: 0.01}).Detect(context.Background(), prev, next, h)
	require.NoError(t, err)
	assert.Equal(t, SemanticDelta{Material: false, Magnitude: 0.01, Source: "analyzer"}, cs.Semantic[p11])

	var buf bytes.Buffer
	d := NewDetector(fixedJudge{err: errors.New("offline")})
	d.Logger = logger.NewLogger(logger.Config{Level: "debug", Output: &buf})
	cs, err = d.Detect(context.Background(), prev, next, h)
	require.NoError(t, err)
	assert.Equal(t, "jaccard", cs.Semantic[p11].Source)
	assert.Equal(t, 0.0, cs.Semantic[p11].Magnitude)
	assert.Contains(t, buf.String(), "semantic judge failed")
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"node_id":"`+p11+`"`)
	assert.Contains(t, buf.String(), "offline")
}

func TestUnifiedDiff(t *testing.T) {
	d := DiffText("a\nb\nc\n", "a\nB\nc\n")
	assert.True(t, d.Changed())
	ins, del := d.Stat()
	assert.Equal(t, 1, ins)
	assert.Equal(t, 1, del)

	out, err := d.Unified("prev", "next", 1)
	require.NoError(t, err)
	assert.Contains(t, out, "--- prev")
	assert.Contains(t, out, "+++ next")
	assert.Contains(t, out, "-b\n")
	assert.Contains(t, out, "+B\n")
}

func TestSemanticJudgeUsesSemanticView(t *testing.T) {
	j := view.SemanticJudge{Generator: view.NewGenerator(analyzer.NewHashing(dim), dim)}
	same, err := j.Distance(context.Background(), "the same words", "the same words", hierarchy.Paragraph)
	require.NoError(t, err)
	assert.InDelta(t, 0, same, 1e-6)

	diff, err := j.Distance(context.Background(), "the same words", "completely different sentence", hierarchy.Paragraph)
	require.NoError(t, err)
	assert.Greater(t, diff, 0.1)
}
