// ABOUTME: Impact propagation from a change set across the previous hierarchy
// ABOUTME: Breadth-first waves over Contains and Appears edges with a hop bound

package impact

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/vector"
)

const (
	// DefaultCascadeThreshold is the cosine distance above which a recombined aggregate cascades
	DefaultCascadeThreshold = 0.15

	// DefaultMaxHops bounds the number of propagation waves
	DefaultMaxHops = 5
)

// Level is how strongly a change reaches a node. Levels only increase.
type Level int

const (
	None Level = iota
	Local
	Propagated
	Cascading
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Local:
		return "local"
	case Propagated:
		return "propagated"
	case Cascading:
		return "cascading"
	default:
		return "unknown"
	}
}

// Map is the impact level of every node of the previous hierarchy
type Map struct {
	Levels  map[string]Level
	Changes *change.ChangeSet
	// Full is set when every node must be regenerated
	Full bool
	// Hops is the number of waves the propagation ran
	Hops int

	ordinals map[string]uint32
}

func newMap(cs *change.ChangeSet, h *hierarchy.Hierarchy) *Map {
	ord, ids := h.Ordinals()
	m := &Map{
		Levels:   make(map[string]Level, len(ids)),
		Changes:  cs,
		ordinals: ord,
	}
	for _, id := range h.LiveIDs() {
		m.Levels[id] = None
	}
	return m
}

// Level returns the level of id; unknown ids are None
func (m *Map) Level(id string) Level {
	return m.Levels[id]
}

// Raise lifts id to at least l and reports whether the level changed
func (m *Map) Raise(id string, l Level) bool {
	if m.Levels[id] >= l {
		return false
	}
	m.Levels[id] = l
	return true
}

// Affected returns the ids at a level above None, sorted
func (m *Map) Affected() []string {
	var out []string
	for id, l := range m.Levels {
		if l > None {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of nodes at each level
func (m *Map) Counts() map[Level]int {
	out := make(map[Level]int, 4)
	for _, l := range m.Levels {
		out[l]++
	}
	return out
}

// Clone copies the map; the change set is shared
func (m *Map) Clone() *Map {
	out := *m
	out.Levels = make(map[string]Level, len(m.Levels))
	for id, l := range m.Levels {
		out.Levels[id] = l
	}
	return &out
}

// Propagator computes impact maps
type Propagator struct {
	CascadeThreshold float64
	MaxHops          int
}

// NewPropagator creates a propagator with default thresholds
func NewPropagator() *Propagator {
	return &Propagator{CascadeThreshold: DefaultCascadeThreshold, MaxHops: DefaultMaxHops}
}

// FullMap flags every live node of h Cascading
func FullMap(cs *change.ChangeSet, h *hierarchy.Hierarchy) *Map {
	m := newMap(cs, h)
	for id := range m.Levels {
		m.Levels[id] = Cascading
	}
	m.Full = true
	return m
}

type run struct {
	h *hierarchy.Hierarchy
	m *Map
}

// Propagate maps cs onto h. Changed spans are Local; a changed child forces
// its parent to re-aggregate and a changed mention forces its concept to be
// re-scored, both Propagated. Sibling edges do not carry impact: the
// reconciler recomputes them from the new vectors. When the hop bound is
// exceeded it returns a full map together with ErrMaxHopsExceeded.
//
// Whether a re-aggregated node moved far enough to be Cascading is only known
// once its vector has been recombined; see Cascade.
func (p *Propagator) Propagate(cs *change.ChangeSet, h *hierarchy.Hierarchy) (*Map, error) {
	maxHops := p.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	r := &run{h: h, m: newMap(cs, h)}

	var frontier []string
	for _, id := range cs.Changed() {
		if _, live := r.m.Levels[id]; live && r.m.Raise(id, Local) {
			frontier = append(frontier, id)
		}
	}
	parents, rootGained := cs.AddedParents()
	if rootGained || cs.DocumentImpact != change.Unchanged {
		parents = append(parents, h.RootID)
	}
	for _, id := range parents {
		if r.m.Raise(id, Propagated) {
			frontier = append(frontier, id)
		}
	}

	for hop := 0; len(frontier) > 0; hop++ {
		if hop >= maxHops {
			full := FullMap(cs, h)
			full.Hops = hop
			return full, fmt.Errorf("impact: %d waves: %w", hop, errs.ErrMaxHopsExceeded)
		}
		queued := roaring.New()
		var next []string
		enqueue := func(id string) {
			o, ok := r.m.ordinals[id]
			if !ok || queued.Contains(o) {
				return
			}
			queued.Add(o)
			next = append(next, id)
		}
		for _, id := range frontier {
			r.visit(id, enqueue)
		}
		sort.Strings(next)
		frontier = next
		r.m.Hops = hop + 1
	}
	return r.m, nil
}

func (r *run) visit(id string, enqueue func(string)) {
	n, ok := r.h.Node(id)
	if !ok || !n.Live() || r.m.Level(id) == None {
		return
	}
	if parent, ok := r.h.Parent(id); ok {
		r.m.Raise(parent, Propagated)
		enqueue(parent)
	}
	for _, e := range r.h.MentionedBy(id) {
		r.m.Raise(e.From, Propagated)
	}
}

func (p *Propagator) threshold() float64 {
	if p.CascadeThreshold <= 0 {
		return DefaultCascadeThreshold
	}
	return p.CascadeThreshold
}

// Cascade compares every re-aggregated node of prev with its recombined
// record in next and raises it to Cascading when the cosine distance between
// the two combined vectors exceeds the cascade threshold. Its children keep
// their level: unchanged spans are combined as they are. It returns the
// raised ids, sorted.
func (p *Propagator) Cascade(m *Map, prev, next *hierarchy.Hierarchy) []string {
	if m.Full {
		return nil
	}
	var out []string
	for _, id := range m.Affected() {
		if m.Level(id) != Propagated {
			continue
		}
		old, ok := prev.Node(id)
		if !ok || !old.Live() || !isAggregate(old.Granularity) {
			continue
		}
		cur, ok := next.Node(id)
		if !ok || !cur.Live() || len(cur.Vector) != len(old.Vector) {
			continue
		}
		if vector.CosineDistance(old.Vector, cur.Vector) > p.threshold() {
			m.Raise(id, Cascading)
			out = append(out, id)
		}
	}
	return out
}

func isAggregate(g hierarchy.Granularity) bool {
	return g == hierarchy.Document || g == hierarchy.Section
}
