// ABOUTME: Incremental updater producing a candidate revision from an impact map
// ABOUTME: Copies untouched records, regenerates affected ones bottom-up on a bounded pool

package update

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/view"
)

// DefaultWorkers bounds concurrent node regenerations per level
const DefaultWorkers = 8

// Candidate is an updated revision awaiting reconciliation and validation
type Candidate struct {
	Hierarchy *hierarchy.Hierarchy
	Previous  *hierarchy.Hierarchy
	Document  *document.Document
	Impact    *impact.Map
	// Regenerated holds ids whose records were rebuilt or created in this revision
	Regenerated map[string]bool
	Created     []string
	Tombstoned  []string
	// SpanText lists the live paragraphs in document order
	SpanText []hierarchy.SpanText
}

// Preserved counts records carried over unchanged
func (c *Candidate) Preserved() int {
	n := 0
	for id, node := range c.Hierarchy.Nodes {
		if node.Live() && !c.Regenerated[id] {
			n++
		}
	}
	return n
}

// Updater regenerates the nodes an impact map marks as affected
type Updater struct {
	Generator *view.Generator
	Builder   *hierarchy.Builder
	Workers   int
	Logger    *logger.Logger
	Now       func() time.Time
}

// New creates an updater
func New(gen *view.Generator, b *hierarchy.Builder, workers int, log *logger.Logger) *Updater {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Updater{Generator: gen, Builder: b, Workers: workers, Logger: log, Now: time.Now}
}

func (u *Updater) now() time.Time {
	if u.Now == nil {
		return time.Now().UTC()
	}
	return u.Now().UTC()
}

// plan is the new document's layout with the previous ids each position maps to
type plan struct {
	sections []sectionPlan
	removed  []string
}

type sectionPlan struct {
	index      int
	oldID      string
	id         string
	paragraphs []paragraphPlan
}

type paragraphPlan struct {
	index int
	oldID string
	id    string
}

func newPlan(cs *change.ChangeSet, next *document.Document) plan {
	var p plan
	matches := cs.Structural.ByNewSection()
	for _, sl := range next.Layout() {
		sp := sectionPlan{index: sl.Index}
		oldParas := make(map[int]string)
		if sm, ok := matches[sl.Index]; ok {
			sp.oldID = sm.OldID
			for _, pm := range sm.Paragraphs {
				if pm.New >= 0 {
					oldParas[pm.New] = pm.OldID
				}
			}
		}
		for _, pi := range sl.Paragraphs {
			sp.paragraphs = append(sp.paragraphs, paragraphPlan{index: pi, oldID: oldParas[pi]})
		}
		p.sections = append(p.sections, sp)
	}
	for _, sm := range cs.Structural.Sections {
		if sm.New < 0 && sm.OldID != "" {
			p.removed = append(p.removed, sm.OldID)
		}
		for _, pm := range sm.Paragraphs {
			if pm.New < 0 && pm.OldID != "" {
				p.removed = append(p.removed, pm.OldID)
			}
		}
	}
	sort.Strings(p.removed)
	return p
}

// Update builds the candidate revision for next. Nodes at impact None are
// copied; every other node is regenerated from next. Levels run bottom-up:
// paragraphs, then sections, then the document. Concepts are carried over for
// the reconciler to re-score.
func (u *Updater) Update(ctx context.Context, prev *hierarchy.Hierarchy, m *impact.Map, next *document.Document) (*Candidate, error) {
	start := time.Now()
	h := hierarchy.New(prev.DocumentID, uuid.NewString(), prev.Dimension)
	h.ParentRevisionID = prev.RevisionID
	h.NextSeq = prev.NextSeq
	h.CreatedAt = u.now()

	c := &Candidate{
		Hierarchy:   h,
		Previous:    prev,
		Document:    next,
		Impact:      m,
		Regenerated: make(map[string]bool),
	}

	p := newPlan(m.Changes, next)
	for si := range p.sections {
		sp := &p.sections[si]
		sp.id = u.assign(h, sp.oldID, hierarchy.Section, c)
		for pi := range sp.paragraphs {
			pp := &sp.paragraphs[pi]
			pp.id = u.assign(h, pp.oldID, hierarchy.Paragraph, c)
		}
	}

	spans := make(map[document.SpanKey]document.Span)
	for _, s := range next.Spans() {
		spans[s.Key] = s
	}

	if err := u.paragraphs(ctx, c, p, spans); err != nil {
		return nil, err
	}
	if err := u.sections(ctx, c, p, spans); err != nil {
		return nil, err
	}
	if err := u.root(ctx, c, p, spans); err != nil {
		return nil, err
	}
	if err := u.link(c, p); err != nil {
		return nil, err
	}
	u.carry(c, p)

	u.Logger.StageLogger("update").Debug("candidate built").
		Str("document_id", h.DocumentID).
		Str("revision_id", h.RevisionID).
		Int("regenerated", len(c.Regenerated)).
		Int("created", len(c.Created)).
		Int("tombstoned", len(c.Tombstoned)).
		Dur("duration", time.Since(start)).
		Send()
	return c, nil
}

func (u *Updater) assign(h *hierarchy.Hierarchy, oldID string, g hierarchy.Granularity, c *Candidate) string {
	if oldID != "" {
		return oldID
	}
	id := h.NewID(g)
	c.Created = append(c.Created, id)
	return id
}

// keep reports whether the previous record of id can be copied as is
func (u *Updater) keep(c *Candidate, oldID string) (*hierarchy.Node, bool) {
	if oldID == "" || c.Impact.Full || c.Impact.Level(oldID) != impact.None {
		return nil, false
	}
	n, ok := c.Previous.Node(oldID)
	if !ok || !n.Live() {
		return nil, false
	}
	out := n.Clone()
	out.RevisionID = c.Hierarchy.RevisionID
	return out, true
}

func (u *Updater) regenerated(c *Candidate, n *hierarchy.Node, oldID string) {
	n.RevisionID = c.Hierarchy.RevisionID
	if oldID != "" {
		if old, ok := c.Previous.Node(oldID); ok {
			n.Supersedes = old.RevisionID
		}
	}
	c.Regenerated[n.ID] = true
}

func (u *Updater) paragraphs(ctx context.Context, c *Candidate, p plan, spans map[document.SpanKey]document.Span) error {
	type job struct {
		plan *paragraphPlan
		span document.Span
	}
	var jobs []job
	for si := range p.sections {
		sp := &p.sections[si]
		for pi := range sp.paragraphs {
			pp := &sp.paragraphs[pi]
			span := spans[document.ParagraphKey(sp.index, pp.index)]
			c.SpanText = append(c.SpanText, hierarchy.SpanText{NodeID: pp.id, Text: span.Text})
			if n, ok := u.keep(c, pp.oldID); ok {
				c.Hierarchy.PutNode(n)
				continue
			}
			jobs = append(jobs, job{plan: pp, span: span})
		}
	}

	nodes := make([]*hierarchy.Node, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(u.workers())
	for i, j := range jobs {
		eg.Go(func() error {
			e, err := u.Generator.GenerateAll(egCtx, j.span.Text, view.SpanContext(c.Document, j.span))
			if err != nil {
				return fmt.Errorf("paragraph %s: %w", j.plan.id, err)
			}
			n, err := u.Builder.NewParagraph(j.plan.id, c.Hierarchy.DocumentID, j.span.Text, e)
			if err != nil {
				return fmt.Errorf("paragraph %s: %w", j.plan.id, err)
			}
			nodes[i] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, n := range nodes {
		u.regenerated(c, n, jobs[i].plan.oldID)
		c.Hierarchy.PutNode(n)
	}
	return nil
}

func (u *Updater) sections(ctx context.Context, c *Candidate, p plan, spans map[document.SpanKey]document.Span) error {
	var jobs []*sectionPlan
	for si := range p.sections {
		sp := &p.sections[si]
		if n, ok := u.keep(c, sp.oldID); ok {
			c.Hierarchy.PutNode(n)
			continue
		}
		jobs = append(jobs, sp)
	}

	nodes := make([]*hierarchy.Node, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(u.workers())
	for i, sp := range jobs {
		eg.Go(func() error {
			children := make([]hierarchy.Views, 0, len(sp.paragraphs))
			for _, pp := range sp.paragraphs {
				children = append(children, c.Hierarchy.Nodes[pp.id].Views)
			}
			sec := c.Document.Sections[sp.index]
			heading, err := u.heading(egCtx, c.Document, spans, document.HeadingKey(sp.index))
			if err != nil {
				return fmt.Errorf("section %s: %w", sp.id, err)
			}
			n := &hierarchy.Node{ID: sp.id, Granularity: hierarchy.Section, Title: sec.Heading}
			features := map[string]float64{"children": float64(len(children))}
			if err := u.Builder.Aggregate(n, c.Hierarchy.DocumentID, c.Document.SectionText(sp.index), children, heading, features); err != nil {
				return fmt.Errorf("section %s: %w", sp.id, err)
			}
			nodes[i] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, n := range nodes {
		u.regenerated(c, n, jobs[i].oldID)
		c.Hierarchy.PutNode(n)
	}
	return nil
}

func (u *Updater) root(ctx context.Context, c *Candidate, p plan, spans map[document.SpanKey]document.Span) error {
	rootID := c.Previous.RootID
	if n, ok := u.keep(c, rootID); ok {
		c.Hierarchy.PutNode(n)
		return nil
	}
	children := make([]hierarchy.Views, 0, len(p.sections))
	for _, sp := range p.sections {
		children = append(children, c.Hierarchy.Nodes[sp.id].Views)
	}
	title, err := u.heading(ctx, c.Document, spans, document.TitleKey())
	if err != nil {
		return fmt.Errorf("document %s: %w", rootID, err)
	}
	n := &hierarchy.Node{ID: rootID, Granularity: hierarchy.Document, Title: c.Document.Title}
	features := map[string]float64{"children": float64(len(children))}
	if err := u.Builder.Aggregate(n, c.Hierarchy.DocumentID, c.Document.Text(), children, title, features); err != nil {
		return fmt.Errorf("document %s: %w", rootID, err)
	}
	u.regenerated(c, n, rootID)
	c.Hierarchy.PutNode(n)
	return nil
}

// heading generates the views of a title or heading span; blank spans have none
func (u *Updater) heading(ctx context.Context, doc *document.Document, spans map[document.SpanKey]document.Span, key document.SpanKey) (*hierarchy.Views, error) {
	span, ok := spans[key]
	if !ok {
		return nil, nil
	}
	e, err := u.Generator.GenerateAll(ctx, span.Text, view.SpanContext(doc, span))
	if err != nil {
		return nil, err
	}
	v := e.Views()
	return &v, nil
}

// link adds Contains edges in the new document order
func (u *Updater) link(c *Candidate, p plan) error {
	h := c.Hierarchy
	for _, sp := range p.sections {
		if err := h.AddEdge(hierarchy.Edge{From: h.RootID, To: sp.id, Type: hierarchy.Contains, Strength: 1}); err != nil {
			return err
		}
		for _, pp := range sp.paragraphs {
			if err := h.AddEdge(hierarchy.Edge{From: sp.id, To: pp.id, Type: hierarchy.Contains, Strength: 1}); err != nil {
				return err
			}
		}
	}
	return nil
}

// carry copies concepts, tombstones removed spans and carries the previous
// Sibling and Appears edges whose endpoints still exist. The reconciler drops
// the stale ones.
func (u *Updater) carry(c *Candidate, p plan) {
	h := c.Hierarchy
	for _, id := range c.Previous.Concepts() {
		if n, ok := c.Previous.Node(id); ok {
			cp := n.Clone()
			cp.RevisionID = h.RevisionID
			h.PutNode(cp)
		}
	}
	for _, id := range p.removed {
		n, ok := c.Previous.Node(id)
		if !ok || !n.Live() {
			continue
		}
		t := n.Clone()
		t.Supersedes = n.RevisionID
		t.RevisionID = h.RevisionID
		t.Tombstoned = true
		h.PutNode(t)
		c.Tombstoned = append(c.Tombstoned, id)
	}
	for _, e := range c.Previous.Edges {
		if e.Type == hierarchy.Contains {
			continue
		}
		_, okFrom := h.Nodes[e.From]
		_, okTo := h.Nodes[e.To]
		if okFrom && okTo {
			h.Edges = append(h.Edges, e)
		}
	}
	h.Reindex()
}

func (u *Updater) workers() int {
	if u.Workers <= 0 {
		return DefaultWorkers
	}
	return u.Workers
}
