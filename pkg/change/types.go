// ABOUTME: Change sets produced by diffing two document revisions
// ABOUTME: Text diff, structural alignment, semantic deltas and per-node impact

package change

import (
	"sort"
)

// TextImpact is how a previous node's own text changed
type TextImpact int

const (
	Unchanged TextImpact = iota
	Modified
	Added
	Removed
)

func (t TextImpact) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ParagraphMatch aligns one paragraph across revisions; Old or New is -1 when absent
type ParagraphMatch struct {
	OldID  string
	Old    int
	New    int
	Impact TextImpact
}

// SectionMatch aligns one section across revisions. Impact covers the heading only.
type SectionMatch struct {
	OldID      string
	Old        int
	New        int
	Impact     TextImpact
	Paragraphs []ParagraphMatch
}

// StructuralDelta is the ordered section alignment
type StructuralDelta struct {
	Sections []SectionMatch
}

// ByNewSection indexes matches that survive into the new revision by new section index
func (d StructuralDelta) ByNewSection() map[int]*SectionMatch {
	out := make(map[int]*SectionMatch, len(d.Sections))
	for i := range d.Sections {
		if d.Sections[i].New >= 0 {
			out[d.Sections[i].New] = &d.Sections[i]
		}
	}
	return out
}

// Counts returns how many sections were added, removed and matched
func (d StructuralDelta) Counts() (added, removed, matched int) {
	for _, s := range d.Sections {
		switch {
		case s.Old < 0:
			added++
		case s.New < 0:
			removed++
		default:
			matched++
		}
	}
	return added, removed, matched
}

// SemanticDelta reports whether a modification changed meaning materially
type SemanticDelta struct {
	Material  bool
	Magnitude float64
	Source    string // "analyzer" or "jaccard"
}

// ChangeSet is the diff of two revisions mapped onto the previous hierarchy
type ChangeSet struct {
	DocumentID     string
	PrevRevisionID string
	TextDiff       *TextDiff
	Structural     StructuralDelta
	Semantic       map[string]SemanticDelta
	PerNode        map[string]TextImpact
	DocumentImpact TextImpact
}

// Impact returns the text impact of a previous node
func (c *ChangeSet) Impact(id string) TextImpact {
	return c.PerNode[id]
}

// Magnitude is the estimated change size of a previous node in [0,1]
func (c *ChangeSet) Magnitude(id string) float64 {
	switch c.PerNode[id] {
	case Unchanged:
		return 0
	case Added, Removed:
		return 1
	}
	if d, ok := c.Semantic[id]; ok {
		return d.Magnitude
	}
	return 1
}

// Changed lists previous nodes whose text impact is not Unchanged, sorted
func (c *ChangeSet) Changed() []string {
	var out []string
	for id, t := range c.PerNode {
		if t != Unchanged {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AddedParents returns previous sections that gained paragraphs and whether
// any section was added under the root
func (c *ChangeSet) AddedParents() (sections []string, rootGained bool) {
	for _, s := range c.Structural.Sections {
		if s.Old < 0 {
			rootGained = true
			continue
		}
		if s.New < 0 {
			continue
		}
		for _, p := range s.Paragraphs {
			if p.Old < 0 {
				sections = append(sections, s.OldID)
				break
			}
		}
	}
	return sections, rootGained
}

// IsNoop reports whether nothing changed at all
func (c *ChangeSet) IsNoop() bool {
	return c.DocumentImpact == Unchanged && len(c.Changed()) == 0
}
