package hierarchy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

const (
	DefaultSiblingThreshold = 0.6
	DefaultMinMentions      = 2
)

// ViewVector is one generated view embedding
type ViewVector struct {
	Vector      []float32
	ContentHash string
}

// SpanEmbedding is the three generated views of one span
type SpanEmbedding struct {
	Structural ViewVector
	Semantic   ViewVector
	Pragmatic  ViewVector
	Features   map[string]float64
}

// Views strips the content hashes
func (s SpanEmbedding) Views() Views {
	return Views{Structural: s.Structural.Vector, Semantic: s.Semantic.Vector, Pragmatic: s.Pragmatic.Vector}
}

// Combine bolts the three views under p
func (s SpanEmbedding) Combine(p combiner.Policy) ([]float32, error) {
	return combiner.Combine(
		combiner.Input{Vector: s.Structural.Vector, ContentHash: s.Structural.ContentHash},
		combiner.Input{Vector: s.Semantic.Vector, ContentHash: s.Semantic.ContentHash},
		combiner.Input{Vector: s.Pragmatic.Vector, ContentHash: s.Pragmatic.ContentHash},
		p,
	)
}

// Embeddings maps span positions to their generated views
type Embeddings map[document.SpanKey]SpanEmbedding

// Builder assembles a revision graph from a document and its span embeddings
type Builder struct {
	Policy           combiner.Policy
	Dimension        int
	SiblingThreshold float64
	MinMentions      int
	Now              func() time.Time
}

// NewBuilder creates a builder with default thresholds
func NewBuilder(policy combiner.Policy, dim int) *Builder {
	return &Builder{
		Policy:           policy,
		Dimension:        dim,
		SiblingThreshold: DefaultSiblingThreshold,
		MinMentions:      DefaultMinMentions,
		Now:              time.Now,
	}
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now().UTC()
	}
	return b.Now().UTC()
}

// Build creates the first revision of a document
func (b *Builder) Build(doc *document.Document, emb Embeddings) (*Hierarchy, error) {
	return b.BuildRevision(doc, emb, uuid.NewString(), "")
}

// BuildRevision builds a complete hierarchy under the given revision ids
func (b *Builder) BuildRevision(doc *document.Document, emb Embeddings, revisionID, parentRevisionID string) (*Hierarchy, error) {
	h := New(doc.ID, revisionID, b.Dimension)
	h.ParentRevisionID = parentRevisionID
	h.CreatedAt = b.now()

	root := &Node{
		ID:          h.NewID(Document),
		Granularity: Document,
		Title:       doc.Title,
	}
	if err := h.AddNode(root); err != nil {
		return nil, err
	}

	var sectionViews []Views
	var paragraphs []SpanText
	for si := range doc.Sections {
		secNode, paras, err := b.buildSection(h, doc, si, emb)
		if err != nil {
			return nil, err
		}
		if secNode == nil {
			continue
		}
		if err := h.AddEdge(Edge{From: root.ID, To: secNode.ID, Type: Contains, Strength: 1}); err != nil {
			return nil, err
		}
		sectionViews = append(sectionViews, secNode.Views)
		paragraphs = append(paragraphs, paras...)
	}

	var title *Views
	if !document.IsBlank(doc.Title) {
		e, err := lookup(emb, document.TitleKey(), Document)
		if err != nil {
			return nil, err
		}
		v := e.Views()
		title = &v
	}
	if err := b.finishAggregate(h, root, doc.Text(), sectionViews, title, map[string]float64{"children": float64(len(sectionViews))}); err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}

	for _, cm := range ExtractConcepts(paragraphs, b.minMentions()) {
		if _, err := b.AddConcept(h, cm, ""); err != nil {
			return nil, err
		}
	}

	for _, e := range SiblingEdges(h, b.SiblingThreshold) {
		if err := h.AddEdge(e); err != nil {
			return nil, err
		}
	}

	if err := h.CheckForest(); err != nil {
		return nil, err
	}
	return h, nil
}

func (b *Builder) minMentions() int {
	if b.MinMentions <= 0 {
		return DefaultMinMentions
	}
	return b.MinMentions
}

func (b *Builder) buildSection(h *Hierarchy, doc *document.Document, si int, emb Embeddings) (*Node, []SpanText, error) {
	sec := doc.Sections[si]

	var live []int
	for pi, p := range sec.Paragraphs {
		if !document.IsBlank(p) {
			live = append(live, pi)
		}
	}
	if document.IsBlank(sec.Heading) && len(live) == 0 {
		return nil, nil, nil
	}

	node := &Node{ID: h.NewID(Section), Granularity: Section, Title: sec.Heading}
	if err := h.AddNode(node); err != nil {
		return nil, nil, err
	}

	var childViews []Views
	var spans []SpanText
	for _, pi := range live {
		text := sec.Paragraphs[pi]
		e, err := lookup(emb, document.ParagraphKey(si, pi), Paragraph)
		if err != nil {
			return nil, nil, err
		}
		para, err := b.NewParagraph(h.NewID(Paragraph), doc.ID, text, e)
		if err != nil {
			return nil, nil, fmt.Errorf("paragraph %d.%d: %w", si, pi, err)
		}
		para.RevisionID = h.RevisionID
		if err := h.AddNode(para); err != nil {
			return nil, nil, err
		}
		if err := h.AddEdge(Edge{From: node.ID, To: para.ID, Type: Contains, Strength: 1}); err != nil {
			return nil, nil, err
		}
		childViews = append(childViews, para.Views)
		spans = append(spans, SpanText{NodeID: para.ID, Text: text})
	}

	var heading *Views
	if !document.IsBlank(sec.Heading) {
		e, err := lookup(emb, document.HeadingKey(si), Section)
		if err != nil {
			return nil, nil, err
		}
		v := e.Views()
		heading = &v
	}
	features := map[string]float64{"children": float64(len(childViews))}
	if err := b.finishAggregate(h, node, doc.SectionText(si), childViews, heading, features); err != nil {
		return nil, nil, fmt.Errorf("section %d: %w", si, err)
	}
	return node, spans, nil
}

// NewParagraph creates a paragraph record from its generated views
func (b *Builder) NewParagraph(id, documentID, text string, e SpanEmbedding) (*Node, error) {
	hash := ContentHash(Paragraph, text)
	if e.Semantic.ContentHash != hash {
		return nil, fmt.Errorf("%w: embedding %s for content %s", errs.ErrContentHashMismatch, e.Semantic.ContentHash, hash)
	}
	vec, err := e.Combine(b.Policy)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:          id,
		Granularity: Paragraph,
		ContentRef:  ContentRef{DocumentID: documentID, Hash: hash},
		Vector:      vec,
		Views:       e.Views(),
		Features:    e.Features,
		ContentHash: hash,
		CreatedAt:   b.now(),
	}, nil
}

// Aggregate fills an aggregate node's views and vector from its children's
// views plus its own heading embedding when present
func (b *Builder) Aggregate(n *Node, documentID, text string, children []Views, heading *Views, features map[string]float64) error {
	parts := children
	if heading != nil {
		parts = append(append([]Views(nil), children...), *heading)
	}
	views, err := AggregateViews(parts, nil, b.Dimension)
	if err != nil {
		return err
	}
	vec, err := combiner.CombineVectors(views.Structural, views.Semantic, views.Pragmatic, b.Policy)
	if err != nil {
		return err
	}
	n.Views = views
	n.Vector = vec
	n.ContentHash = ContentHash(n.Granularity, text)
	n.ContentRef = ContentRef{DocumentID: documentID, Hash: n.ContentHash}
	if features == nil {
		features = make(map[string]float64)
	}
	n.Features = features
	if heading != nil {
		n.Features["heading"] = 1
	}
	n.CreatedAt = b.now()
	return nil
}

func (b *Builder) finishAggregate(h *Hierarchy, n *Node, text string, children []Views, heading *Views, features map[string]float64) error {
	if err := b.Aggregate(n, h.DocumentID, text, children, heading, features); err != nil {
		return err
	}
	n.RevisionID = h.RevisionID
	return nil
}

// AggregateViews sums parts per view (weighted when weights is non-nil) and normalizes
func AggregateViews(parts []Views, weights []float64, dim int) (Views, error) {
	if len(parts) == 0 {
		return Views{}, errs.ErrEmptyContent
	}
	s := vector.NewAccumulator(dim)
	m := vector.NewAccumulator(dim)
	p := vector.NewAccumulator(dim)
	for i, part := range parts {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if !s.Add(part.Structural, w) {
			return Views{}, errs.Dimension("aggregate structural", dim, len(part.Structural))
		}
		if !m.Add(part.Semantic, w) {
			return Views{}, errs.Dimension("aggregate semantic", dim, len(part.Semantic))
		}
		if !p.Add(part.Pragmatic, w) {
			return Views{}, errs.Dimension("aggregate pragmatic", dim, len(part.Pragmatic))
		}
	}
	var out Views
	var ok bool
	if out.Structural, ok = s.Unit(); !ok {
		return Views{}, fmt.Errorf("aggregate structural: %w", errs.ErrZeroVector)
	}
	if out.Semantic, ok = m.Unit(); !ok {
		return Views{}, fmt.Errorf("aggregate semantic: %w", errs.ErrZeroVector)
	}
	if out.Pragmatic, ok = p.Unit(); !ok {
		return Views{}, fmt.Errorf("aggregate pragmatic: %w", errs.ErrZeroVector)
	}
	return out, nil
}

func lookup(emb Embeddings, key document.SpanKey, g Granularity) (SpanEmbedding, error) {
	e, ok := emb[key]
	if !ok {
		return SpanEmbedding{}, fmt.Errorf("%s span %+v: %w: no embedding", g, key, errs.ErrAnalysisUnavailable)
	}
	return e, nil
}
