package change

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
)

const (
	// DefaultMaterialThreshold is the magnitude above which a modification is material
	DefaultMaterialThreshold = 0.05

	// DefaultPairThreshold is the body overlap needed to pair renamed sections
	DefaultPairThreshold = 0.5
)

// Judge estimates how far the meaning of a span moved, in [0,1]
type Judge interface {
	Distance(ctx context.Context, old, new string, g hierarchy.Granularity) (float64, error)
}

// Detector diffs document revisions against the previous hierarchy
type Detector struct {
	// Judge is optional; without it magnitudes are token Jaccard distances
	Judge             Judge
	MaterialThreshold float64
	PairThreshold     float64
	Logger            *logger.Logger
}

// NewDetector creates a detector; judge may be nil
func NewDetector(judge Judge) *Detector {
	return &Detector{
		Judge:             judge,
		MaterialThreshold: DefaultMaterialThreshold,
		PairThreshold:     DefaultPairThreshold,
	}
}

type boundParagraph struct {
	id    string
	index int
	text  string
}

type boundSection struct {
	id      string
	index   int
	heading string
	body    string
	paras   []boundParagraph
}

// bind pairs the previous document's layout with the previous hierarchy's nodes
func bind(doc *document.Document, h *hierarchy.Hierarchy) ([]boundSection, error) {
	layout := doc.Layout()
	sections := h.Sections()
	if len(layout) != len(sections) {
		return nil, fmt.Errorf("%w: %d sections in document, %d in hierarchy", errs.ErrInconsistent, len(layout), len(sections))
	}
	out := make([]boundSection, len(layout))
	for i, sl := range layout {
		sec := doc.Sections[sl.Index]
		paraIDs := h.Paragraphs(sections[i])
		if len(paraIDs) != len(sl.Paragraphs) {
			return nil, fmt.Errorf("%w: section %s has %d paragraphs, document has %d",
				errs.ErrInconsistent, sections[i], len(paraIDs), len(sl.Paragraphs))
		}
		bs := boundSection{id: sections[i], index: sl.Index, heading: sec.Heading}
		var body []string
		for j, pi := range sl.Paragraphs {
			text := sec.Paragraphs[pi]
			if h.Nodes[paraIDs[j]].ContentHash != hierarchy.ContentHash(hierarchy.Paragraph, text) {
				return nil, fmt.Errorf("%w: paragraph %s content hash", errs.ErrInconsistent, paraIDs[j])
			}
			bs.paras = append(bs.paras, boundParagraph{id: paraIDs[j], index: pi, text: text})
			body = append(body, text)
		}
		bs.body = strings.Join(body, "\n")
		out[i] = bs
	}
	return out, nil
}

// Detect diffs prev against next and labels every live node of prevHierarchy
func (d *Detector) Detect(ctx context.Context, prev, next *document.Document, prevHierarchy *hierarchy.Hierarchy) (*ChangeSet, error) {
	old, err := bind(prev, prevHierarchy)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{
		DocumentID:     next.ID,
		PrevRevisionID: prevHierarchy.RevisionID,
		TextDiff:       DiffText(prev.Text(), next.Text()),
		Semantic:       make(map[string]SemanticDelta),
		PerNode:        make(map[string]TextImpact),
	}
	if cs.TextDiff.Changed() {
		cs.DocumentImpact = Modified
	}

	for _, id := range prevHierarchy.LiveIDs() {
		cs.PerNode[id] = Unchanged
	}

	cs.Structural = d.alignSections(old, next)

	modifiedText := make(map[string][2]string)
	if prev.Title != next.Title {
		cs.PerNode[prevHierarchy.RootID] = Modified
		modifiedText[prevHierarchy.RootID] = [2]string{prev.Title, next.Title}
	}

	byID := make(map[string]boundSection, len(old))
	for _, s := range old {
		byID[s.id] = s
	}
	for _, sm := range cs.Structural.Sections {
		if sm.OldID == "" {
			continue
		}
		cs.PerNode[sm.OldID] = sm.Impact
		bs := byID[sm.OldID]
		if sm.Impact == Modified {
			modifiedText[sm.OldID] = [2]string{bs.heading, next.Sections[sm.New].Heading}
		}
		oldText := make(map[string]string, len(bs.paras))
		for _, p := range bs.paras {
			oldText[p.id] = p.text
		}
		for _, pm := range sm.Paragraphs {
			if pm.OldID == "" {
				continue
			}
			cs.PerNode[pm.OldID] = pm.Impact
			if pm.Impact == Modified {
				modifiedText[pm.OldID] = [2]string{oldText[pm.OldID], next.Sections[sm.New].Paragraphs[pm.New]}
			}
		}
	}

	ids := make([]string, 0, len(modifiedText))
	for id := range modifiedText {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pair := modifiedText[id]
		cs.Semantic[id] = d.semantic(ctx, id, pair[0], pair[1], prevHierarchy.Nodes[id].Granularity)
	}
	return cs, nil
}

// semantic judges one modified span. A failing judge is logged and the token
// distance stands in for it.
func (d *Detector) semantic(ctx context.Context, id, old, new string, g hierarchy.Granularity) SemanticDelta {
	threshold := d.MaterialThreshold
	if threshold <= 0 {
		threshold = DefaultMaterialThreshold
	}
	delta := SemanticDelta{Source: "jaccard", Magnitude: 1 - document.Jaccard(old, new)}
	if d.Judge != nil && !document.IsBlank(old) && !document.IsBlank(new) {
		dist, err := d.Judge.Distance(ctx, old, new, g)
		if err == nil {
			delta = SemanticDelta{Source: "analyzer", Magnitude: clamp01(dist)}
		} else {
			d.Logger.StageLogger("detect").
				WithFields(map[string]any{"node_id": id, "granularity": g.String()}).
				Warn("semantic judge failed, using token distance").
				Err(err).
				Send()
		}
	}
	delta.Material = delta.Magnitude >= threshold
	return delta
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func (d *Detector) alignSections(old []boundSection, next *document.Document) StructuralDelta {
	layout := next.Layout()

	oldKeys := make([]string, len(old))
	for i, s := range old {
		oldKeys[i] = document.NormalizeHeading(s.heading)
	}
	newKeys := make([]string, len(layout))
	newBody := make([]string, len(layout))
	for i, sl := range layout {
		sec := next.Sections[sl.Index]
		newKeys[i] = document.NormalizeHeading(sec.Heading)
		var body []string
		for _, pi := range sl.Paragraphs {
			body = append(body, sec.Paragraphs[pi])
		}
		newBody[i] = strings.Join(body, "\n")
	}

	anchors := lcs(oldKeys, newKeys)
	pairs := make(map[int]int, len(anchors))
	for _, a := range anchors {
		pairs[a[0]] = a[1]
	}

	threshold := d.PairThreshold
	if threshold <= 0 {
		threshold = DefaultPairThreshold
	}
	for _, g := range gaps(len(old), len(layout), anchors) {
		used := make(map[int]bool)
		for _, oi := range g.old {
			best, bestScore := -1, 0.0
			for _, ni := range g.new {
				if used[ni] {
					continue
				}
				if score := document.Jaccard(old[oi].body, newBody[ni]); score >= threshold && score > bestScore {
					best, bestScore = ni, score
				}
			}
			if best >= 0 {
				used[best] = true
				pairs[oi] = best
			}
		}
	}

	var delta StructuralDelta
	matchedNew := make(map[int]bool)
	for oi, ni := range pairs {
		matchedNew[ni] = true
		sec := next.Sections[layout[ni].Index]
		impact := Unchanged
		if old[oi].heading != sec.Heading {
			impact = Modified
		}
		delta.Sections = append(delta.Sections, SectionMatch{
			OldID:      old[oi].id,
			Old:        old[oi].index,
			New:        layout[ni].Index,
			Impact:     impact,
			Paragraphs: alignParagraphs(old[oi].paras, sec, layout[ni].Paragraphs),
		})
	}
	for oi, s := range old {
		if _, ok := pairs[oi]; ok {
			continue
		}
		sm := SectionMatch{OldID: s.id, Old: s.index, New: -1, Impact: Removed}
		for _, p := range s.paras {
			sm.Paragraphs = append(sm.Paragraphs, ParagraphMatch{OldID: p.id, Old: p.index, New: -1, Impact: Removed})
		}
		delta.Sections = append(delta.Sections, sm)
	}
	for ni, sl := range layout {
		if matchedNew[ni] {
			continue
		}
		sm := SectionMatch{Old: -1, New: sl.Index, Impact: Added}
		for _, pi := range sl.Paragraphs {
			sm.Paragraphs = append(sm.Paragraphs, ParagraphMatch{Old: -1, New: pi, Impact: Added})
		}
		delta.Sections = append(delta.Sections, sm)
	}

	sort.SliceStable(delta.Sections, func(i, j int) bool {
		a, b := delta.Sections[i], delta.Sections[j]
		if (a.New < 0) != (b.New < 0) {
			return b.New < 0
		}
		if a.New >= 0 {
			return a.New < b.New
		}
		return a.Old < b.Old
	})
	return delta
}

func alignParagraphs(old []boundParagraph, sec document.Section, newIdx []int) []ParagraphMatch {
	oldHashes := make([]string, len(old))
	for i, p := range old {
		oldHashes[i] = hierarchy.ContentHash(hierarchy.Paragraph, p.text)
	}
	newHashes := make([]string, len(newIdx))
	for i, pi := range newIdx {
		newHashes[i] = hierarchy.ContentHash(hierarchy.Paragraph, sec.Paragraphs[pi])
	}

	anchors := lcs(oldHashes, newHashes)
	var out []ParagraphMatch
	for _, a := range anchors {
		out = append(out, ParagraphMatch{OldID: old[a[0]].id, Old: old[a[0]].index, New: newIdx[a[1]], Impact: Unchanged})
	}
	for _, g := range gaps(len(old), len(newIdx), anchors) {
		n := min(len(g.old), len(g.new))
		for k := 0; k < n; k++ {
			o := old[g.old[k]]
			out = append(out, ParagraphMatch{OldID: o.id, Old: o.index, New: newIdx[g.new[k]], Impact: Modified})
		}
		for _, oi := range g.old[n:] {
			out = append(out, ParagraphMatch{OldID: old[oi].id, Old: old[oi].index, New: -1, Impact: Removed})
		}
		for _, ni := range g.new[n:] {
			out = append(out, ParagraphMatch{Old: -1, New: newIdx[ni], Impact: Added})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.New < 0) != (b.New < 0) {
			return b.New < 0
		}
		if a.New >= 0 {
			return a.New < b.New
		}
		return a.Old < b.Old
	})
	return out
}
