package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# Handbook

Intro paragraph before any section.

## Leave Policy

Employees accrue leave monthly.

Unused leave carries over.

## Expenses
Receipts are required.
`

func TestParse(t *testing.T) {
	doc := Parse("hb", sample)

	assert.Equal(t, "hb", doc.ID)
	assert.Equal(t, "Handbook", doc.Title)
	require.Len(t, doc.Sections, 3)
	assert.Equal(t, "", doc.Sections[0].Heading)
	assert.Equal(t, []string{"Intro paragraph before any section."}, doc.Sections[0].Paragraphs)
	assert.Equal(t, "Leave Policy", doc.Sections[1].Heading)
	assert.Equal(t, []string{"Employees accrue leave monthly.", "Unused leave carries over."}, doc.Sections[1].Paragraphs)
	assert.Equal(t, []string{"Receipts are required."}, doc.Sections[2].Paragraphs)
}

func TestParseKeepsFencedBlocksTogether(t *testing.T) {
	doc := Parse("c", "## Code\n\n```\n# not a heading\n\nstill code\n```\n")
	require.Len(t, doc.Sections, 1)
	require.Len(t, doc.Sections[0].Paragraphs, 1)
	assert.Contains(t, doc.Sections[0].Paragraphs[0], "# not a heading")
}

func TestRenderRoundTrip(t *testing.T) {
	doc := Parse("hb", sample)
	again := Parse("hb", Render(doc))
	assert.Equal(t, doc.Title, again.Title)
	assert.Equal(t, doc.Sections, again.Sections)
}

func TestSpans(t *testing.T) {
	doc := &Document{
		Title: "T",
		Sections: []Section{
			{Heading: "A", Paragraphs: []string{"one", "  ", "two"}},
			{Heading: "", Paragraphs: []string{"three"}},
		},
	}

	spans := doc.Spans()
	keys := make([]SpanKey, len(spans))
	for i, s := range spans {
		keys[i] = s.Key
	}
	assert.Equal(t, []SpanKey{
		TitleKey(),
		HeadingKey(0),
		ParagraphKey(0, 0),
		ParagraphKey(0, 2),
		ParagraphKey(1, 0),
	}, keys)
	assert.Equal(t, []string{"T", "A"}, spans[2].HeadingPath)
	assert.Equal(t, []string{"T"}, spans[1].HeadingPath)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"employees", "accrue", "leave", "monthly"}, Terms("The Employees accrue leave monthly in 2024."))
	assert.Equal(t, []string{"the", "cat", "42"}, Tokens("The cat 42"))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("", ""))
	assert.Equal(t, 1.0, Jaccard("a b", "b a"))
	assert.InDelta(t, 0.4, Jaccard("a b c", "a b d e"), 1e-9)
}

func TestCloneIsDeep(t *testing.T) {
	doc := Parse("hb", sample)
	c := doc.Clone()
	c.Sections[1].Paragraphs[0] = "changed"
	assert.Equal(t, "Employees accrue leave monthly.", doc.Sections[1].Paragraphs[0])
}

func TestLayoutSkipsEmptySections(t *testing.T) {
	doc := &Document{Sections: []Section{
		{Heading: "A", Paragraphs: []string{"x", " ", "y"}},
		{Heading: " ", Paragraphs: []string{""}},
		{Heading: "C"},
	}}
	assert.Equal(t, []SectionLayout{
		{Index: 0, Paragraphs: []int{0, 2}},
		{Index: 2},
	}, doc.Layout())
}
