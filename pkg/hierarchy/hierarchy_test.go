package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

const testDim = 64

func granularityOf(k document.SpanKind) Granularity {
	switch k {
	case document.SpanTitle:
		return Document
	case document.SpanHeading:
		return Section
	default:
		return Paragraph
	}
}

func embed(t *testing.T, doc *document.Document) Embeddings {
	t.Helper()
	h := analyzer.NewHashing(testDim)
	out := make(Embeddings)
	for _, span := range doc.Spans() {
		hash := ContentHash(granularityOf(span.Key.Kind), span.Text)
		var e SpanEmbedding
		for _, v := range analyzer.Views {
			res, err := h.Analyze(context.Background(), analyzer.Request{Text: span.Text, View: v})
			require.NoError(t, err)
			vv := ViewVector{Vector: res.Vector, ContentHash: hash}
			switch v {
			case analyzer.Structural:
				e.Structural = vv
			case analyzer.Semantic:
				e.Semantic = vv
			case analyzer.Pragmatic:
				e.Pragmatic = vv
			}
		}
		out[span.Key] = e
	}
	return out
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

func TestBuildStructure(t *testing.T) {
	doc := twoByTwo()
	b := NewBuilder(combiner.DefaultPolicy(), testDim)

	h, err := b.Build(doc, embed(t, doc))
	require.NoError(t, err)

	root, ok := h.Node(h.RootID)
	require.True(t, ok)
	assert.Equal(t, Document, root.Granularity)
	assert.Equal(t, "Handbook", root.Title)

	sections := h.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Leave", h.Nodes[sections[0]].Title)
	for _, s := range sections {
		parent, ok := h.Parent(s)
		require.True(t, ok)
		assert.Equal(t, h.RootID, parent)
		assert.Len(t, h.Paragraphs(s), 2)
	}

	for _, id := range h.LiveIDs() {
		n := h.Nodes[id]
		assert.True(t, vector.IsUnit(n.Vector, 1e-5), id)
		assert.Equal(t, h.RevisionID, n.RevisionID, id)
		assert.NotEmpty(t, n.ContentHash, id)
	}
	require.NoError(t, h.CheckForest())
}

func TestBuildConcepts(t *testing.T) {
	doc := twoByTwo()
	h, err := NewBuilder(combiner.DefaultPolicy(), testDim).Build(doc, embed(t, doc))
	require.NoError(t, err)

	concepts := h.Concepts()
	assert.Contains(t, concepts, ConceptID("leave"))
	assert.Contains(t, concepts, ConceptID("monthly"))
	assert.Contains(t, concepts, ConceptID("expenses"))
	assert.NotContains(t, concepts, ConceptID("receipts"))

	mentions := h.Mentions(ConceptID("monthly"))
	require.Len(t, mentions, 2)
	for _, m := range mentions {
		assert.Equal(t, Paragraph, h.Nodes[m.To].Granularity)
		assert.Equal(t, 1.0, m.Strength)
	}
}

func TestExtractConceptsSalience(t *testing.T) {
	got := ExtractConcepts([]SpanText{
		{NodeID: "p1", Text: "cache cache eviction"},
		{NodeID: "p2", Text: "eviction of the cache"},
		{NodeID: "p3", Text: "unrelated words"},
	}, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "cache", got[0].Term)
	assert.Equal(t, []Mention{{NodeID: "p1", Salience: 1}, {NodeID: "p2", Salience: 1}}, got[0].Mentions)
	assert.Equal(t, "eviction", got[1].Term)
	assert.Equal(t, []Mention{{NodeID: "p1", Salience: 0.5}, {NodeID: "p2", Salience: 1}}, got[1].Mentions)
}

func TestAddEdgeRejectsCyclesAndSecondParents(t *testing.T) {
	h := New("d", "r", 2)
	for _, n := range []*Node{
		{ID: "d", Granularity: Document},
		{ID: "s1", Granularity: Section},
		{ID: "s2", Granularity: Section},
		{ID: "p", Granularity: Paragraph},
		{ID: "c", Granularity: Concept},
	} {
		require.NoError(t, h.AddNode(n))
	}
	require.NoError(t, h.AddEdge(Edge{From: "d", To: "s1", Type: Contains, Strength: 1}))
	require.NoError(t, h.AddEdge(Edge{From: "d", To: "s2", Type: Contains, Strength: 1}))
	require.NoError(t, h.AddEdge(Edge{From: "s1", To: "p", Type: Contains, Strength: 1}))

	assert.ErrorIs(t, h.AddEdge(Edge{From: "s2", To: "p", Type: Contains, Strength: 1}), errs.ErrStructuralCycle)
	assert.ErrorIs(t, h.AddEdge(Edge{From: "p", To: "d", Type: Contains, Strength: 1}), errs.ErrStructuralCycle)
	assert.ErrorIs(t, h.AddEdge(Edge{From: "s1", To: "s1", Type: Contains, Strength: 1}), errs.ErrStructuralCycle)

	assert.NoError(t, h.AddEdge(Edge{From: "s1", To: "s2", Type: Sibling, Strength: 0.9}))
	assert.ErrorIs(t, h.AddEdge(Edge{From: "s1", To: "p", Type: Sibling, Strength: 0.9}), errs.ErrInvalidEdge)
	assert.ErrorIs(t, h.AddEdge(Edge{From: "p", To: "c", Type: Appears, Strength: 0.5}), errs.ErrInvalidEdge)
	assert.ErrorIs(t, h.AddEdge(Edge{From: "c", To: "p", Type: Appears, Strength: 1.5}), errs.ErrInvalidEdge)
	assert.NoError(t, h.AddEdge(Edge{From: "c", To: "p", Type: Appears, Strength: 0.5}))

	require.NoError(t, h.CheckForest())
	assert.Equal(t, []string{"s1", "s2"}, h.Children("d"))
	assert.Len(t, h.Edges, 5)
}

func TestSiblingThreshold(t *testing.T) {
	h := New("d", "r", 2)
	require.NoError(t, h.AddNode(&Node{ID: "d", Granularity: Document}))
	vecs := [][]float32{{1, 0}, {0.8, 0.6}, {-0.6, 0.8}}
	for i, v := range vecs {
		id := []string{"a", "b", "c"}[i]
		require.NoError(t, h.AddNode(&Node{ID: id, Granularity: Section, Vector: v}))
		require.NoError(t, h.AddEdge(Edge{From: "d", To: id, Type: Contains, Strength: 1}))
	}

	edges := SiblingEdges(h, DefaultSiblingThreshold)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].From)
	assert.Equal(t, "b", edges[0].To)
	assert.InDelta(t, 0.8, edges[0].Strength, 1e-6)
}

func TestCloneIsIndependent(t *testing.T) {
	doc := twoByTwo()
	h, err := NewBuilder(combiner.DefaultPolicy(), testDim).Build(doc, embed(t, doc))
	require.NoError(t, err)

	c := h.Clone()
	c.Nodes[h.RootID].Vector[0] = 42
	c.RemoveEdges(func(e Edge) bool { return e.Type == Appears })

	assert.NotEqual(t, float32(42), h.Nodes[h.RootID].Vector[0])
	assert.NotEmpty(t, h.Mentions(ConceptID("monthly")))
	assert.Empty(t, c.Mentions(ConceptID("monthly")))
}

func TestContentHashDependsOnGranularity(t *testing.T) {
	assert.Equal(t, ContentHash(Paragraph, "x"), ContentHash(Paragraph, "x"))
	assert.NotEqual(t, ContentHash(Paragraph, "x"), ContentHash(Section, "x"))
	assert.Len(t, ContentHash(Concept, "x"), 16)
}

func TestBuildRejectsEmptyDocument(t *testing.T) {
	doc := &document.Document{ID: "empty"}
	_, err := NewBuilder(combiner.DefaultPolicy(), testDim).Build(doc, Embeddings{})
	assert.ErrorIs(t, err, errs.ErrEmptyContent)
}
