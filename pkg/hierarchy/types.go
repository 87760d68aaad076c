// ABOUTME: Revision graph data model: nodes, edges and the hierarchy arena
// ABOUTME: Nodes are keyed by opaque id; every cross reference is an id lookup

package hierarchy

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Granularity is the level of content a node represents
type Granularity int

const (
	Document Granularity = iota
	Section
	Paragraph
	Concept
	Relationship // reserved; the builder never creates these
)

func (g Granularity) String() string {
	switch g {
	case Document:
		return "document"
	case Section:
		return "section"
	case Paragraph:
		return "paragraph"
	case Concept:
		return "concept"
	case Relationship:
		return "relationship"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// ParseGranularity maps a name back to a Granularity
func ParseGranularity(s string) (Granularity, error) {
	for g := Document; g <= Relationship; g++ {
		if g.String() == strings.ToLower(s) {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// MarshalText encodes the granularity by name
func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText decodes a granularity name
func (g *Granularity) UnmarshalText(b []byte) error {
	v, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// EdgeType classifies edges
type EdgeType int

const (
	Contains EdgeType = iota
	Sibling
	Appears
)

func (t EdgeType) String() string {
	switch t {
	case Contains:
		return "contains"
	case Sibling:
		return "sibling"
	case Appears:
		return "appears"
	default:
		return fmt.Sprintf("edge(%d)", int(t))
	}
}

// MarshalText encodes the edge type by name
func (t EdgeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes an edge type name
func (t *EdgeType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "contains":
		*t = Contains
	case "sibling":
		*t = Sibling
	case "appears":
		*t = Appears
	default:
		return fmt.Errorf("unknown edge type %q", b)
	}
	return nil
}

// ContentRef is a non-owning reference into the document store.
// It carries no offsets so unrelated edits never disturb it.
type ContentRef struct {
	DocumentID string `json:"document_id"`
	Hash       string `json:"hash"`
}

// Views holds one vector per view
type Views struct {
	Structural []float32 `json:"structural"`
	Semantic   []float32 `json:"semantic"`
	Pragmatic  []float32 `json:"pragmatic"`
}

// Clone returns a deep copy
func (v Views) Clone() Views {
	return Views{
		Structural: slices.Clone(v.Structural),
		Semantic:   slices.Clone(v.Semantic),
		Pragmatic:  slices.Clone(v.Pragmatic),
	}
}

// Node is one immutable record in a revision
type Node struct {
	ID          string             `json:"id"`
	Granularity Granularity        `json:"granularity"`
	Title       string             `json:"title,omitempty"`
	ContentRef  ContentRef         `json:"content_ref"`
	Vector      []float32          `json:"vector"`
	Views       Views              `json:"views"`
	Features    map[string]float64 `json:"features,omitempty"`
	ContentHash string             `json:"content_hash"`
	RevisionID  string             `json:"revision_id"`
	Supersedes  string             `json:"supersedes,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Tombstoned  bool               `json:"tombstoned,omitempty"`
}

// Clone returns a deep copy
func (n *Node) Clone() *Node {
	out := *n
	out.Vector = slices.Clone(n.Vector)
	out.Views = n.Views.Clone()
	if n.Features != nil {
		out.Features = maps.Clone(n.Features)
	}
	return &out
}

// Live reports whether the node is not tombstoned
func (n *Node) Live() bool {
	return !n.Tombstoned
}

// Edge connects two nodes
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Type     EdgeType `json:"type"`
	Strength float64  `json:"strength"`
}

// ContentHash is the hex xxhash64 of granularity ‖ 0x00 ‖ text
func ContentHash(g Granularity, text string) string {
	d := xxhash.New()
	_, _ = d.WriteString(g.String())
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(text)
	return fmt.Sprintf("%016x", d.Sum64())
}

// ConceptID is the stable id of the concept for term
func ConceptID(term string) string {
	return "concept:" + term
}
