package hierarchy

import (
	"fmt"
	"sort"

	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
)

// SpanText pairs a paragraph node with its text
type SpanText struct {
	NodeID string
	Text   string
}

// Mention is one Appears edge target with its salience
type Mention struct {
	NodeID   string
	Salience float64
}

// ConceptMentions is a term and every paragraph mentioning it
type ConceptMentions struct {
	Term     string
	Mentions []Mention
}

// ExtractConcepts finds terms mentioned by at least minMentions paragraphs.
// Salience is term frequency over the span's maximum term frequency.
// Output is sorted by term; mentions keep the input order.
func ExtractConcepts(spans []SpanText, minMentions int) []ConceptMentions {
	byTerm := make(map[string][]Mention)
	for _, s := range spans {
		tf := make(map[string]int)
		maxTF := 0
		for _, t := range document.Terms(s.Text) {
			tf[t]++
			if tf[t] > maxTF {
				maxTF = tf[t]
			}
		}
		for t, n := range tf {
			byTerm[t] = append(byTerm[t], Mention{NodeID: s.NodeID, Salience: float64(n) / float64(maxTF)})
		}
	}

	order := make(map[string]int, len(spans))
	for i, s := range spans {
		order[s.NodeID] = i
	}

	var out []ConceptMentions
	for term, ms := range byTerm {
		if len(ms) < minMentions {
			continue
		}
		sort.Slice(ms, func(i, j int) bool { return order[ms[i].NodeID] < order[ms[j].NodeID] })
		out = append(out, ConceptMentions{Term: term, Mentions: ms})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}

// ConceptNode builds a concept record whose views are the salience-weighted
// aggregate of its mentions' views
func (b *Builder) ConceptNode(h *Hierarchy, cm ConceptMentions) (*Node, error) {
	parts := make([]Views, 0, len(cm.Mentions))
	weights := make([]float64, 0, len(cm.Mentions))
	for _, m := range cm.Mentions {
		n, ok := h.Nodes[m.NodeID]
		if !ok || !n.Live() {
			return nil, fmt.Errorf("concept %s: mention %s is not live", cm.Term, m.NodeID)
		}
		parts = append(parts, n.Views)
		weights = append(weights, m.Salience)
	}
	views, err := AggregateViews(parts, weights, b.Dimension)
	if err != nil {
		return nil, fmt.Errorf("concept %s: %w", cm.Term, err)
	}
	vec, err := combiner.CombineVectors(views.Structural, views.Semantic, views.Pragmatic, b.Policy)
	if err != nil {
		return nil, fmt.Errorf("concept %s: %w", cm.Term, err)
	}
	hash := ContentHash(Concept, cm.Term)
	return &Node{
		ID:          ConceptID(cm.Term),
		Granularity: Concept,
		Title:       cm.Term,
		ContentRef:  ContentRef{DocumentID: h.DocumentID, Hash: hash},
		Vector:      vec,
		Views:       views,
		Features:    map[string]float64{"mentions": float64(len(cm.Mentions))},
		ContentHash: hash,
		RevisionID:  h.RevisionID,
		CreatedAt:   b.now(),
	}, nil
}

// AddConcept builds the concept, stores it (replacing any prior record) and
// links its mentions. supersedes names the revision of a replaced record.
func (b *Builder) AddConcept(h *Hierarchy, cm ConceptMentions, supersedes string) (*Node, error) {
	n, err := b.ConceptNode(h, cm)
	if err != nil {
		return nil, err
	}
	n.Supersedes = supersedes
	h.PutNode(n)
	for _, m := range cm.Mentions {
		if err := h.AddEdge(Edge{From: n.ID, To: m.NodeID, Type: Appears, Strength: m.Salience}); err != nil {
			return nil, err
		}
	}
	return n, nil
}
