package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/revision"
	"github.com/nainya/boltindex/pkg/vector"
	"github.com/nainya/boltindex/pkg/view"
)

// DefaultSearchK is the result count used when SearchOptions.K is zero
const DefaultSearchK = 10

// DefaultSearchMinScore is the similarity floor used when SearchOptions.MinScore is zero
const DefaultSearchMinScore = 0.5

// head returns the committed head hierarchy of a document, loading it from
// the store on first use. The returned hierarchy is shared; callers must not
// mutate it.
func (e *Engine) head(ctx context.Context, documentID string) (*hierarchy.Hierarchy, error) {
	e.mu.RLock()
	h, ok := e.heads[documentID]
	e.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := e.store.Load(ctx, documentID, "")
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if cur, ok := e.heads[documentID]; ok {
		h = cur
	} else {
		e.heads[documentID] = h
	}
	e.mu.Unlock()
	return h, nil
}

// GetHierarchy returns a copy of a committed revision; an empty revisionID
// selects the head
func (e *Engine) GetHierarchy(ctx context.Context, documentID, revisionID string) (*hierarchy.Hierarchy, error) {
	if revisionID == "" {
		h, err := e.head(ctx, documentID)
		if err != nil {
			return nil, err
		}
		return h.Clone(), nil
	}
	return e.store.Load(ctx, documentID, revisionID)
}

// GetNode returns a live node of the head revision
func (e *Engine) GetNode(ctx context.Context, documentID, nodeID string) (*hierarchy.Node, error) {
	revisionID, err := e.headRevision(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if n, ok := e.cache.Get(documentID, revisionID, nodeID); ok {
		return n, nil
	}
	n, err := e.store.Node(ctx, documentID, revisionID, nodeID)
	if err != nil {
		return nil, err
	}
	if !n.Live() {
		return nil, fmt.Errorf("node %s: %w", nodeID, errs.ErrNotFound)
	}
	e.cache.Put(documentID, revisionID, n)
	return n.Clone(), nil
}

func (e *Engine) headRevision(ctx context.Context, documentID string) (string, error) {
	e.mu.RLock()
	h, ok := e.heads[documentID]
	e.mu.RUnlock()
	if ok {
		return h.RevisionID, nil
	}
	return e.store.Head(ctx, documentID)
}

// History lists the committed revisions of a document, oldest first
func (e *Engine) History(ctx context.Context, documentID string) (*revision.History, error) {
	return e.store.History(ctx, documentID)
}

// Lineage follows parent pointers from revisionID, or from the head when
// revisionID is empty, back to the first revision. Newest first.
func (e *Engine) Lineage(ctx context.Context, documentID, revisionID string) ([]*revision.Manifest, error) {
	if revisionID == "" {
		rev, err := e.headRevision(ctx, documentID)
		if err != nil {
			return nil, err
		}
		revisionID = rev
	}
	return e.store.Lineage(ctx, documentID, revisionID)
}

// AsOf returns the revision that was current at t
func (e *Engine) AsOf(ctx context.Context, documentID string, t time.Time) (*revision.Manifest, error) {
	return e.store.AsOf(ctx, documentID, t)
}

// Documents lists every committed document id
func (e *Engine) Documents(ctx context.Context) ([]string, error) {
	return e.store.Documents(ctx)
}

// SearchOptions narrows a search
type SearchOptions struct {
	K int
	// MinScore is an inclusive cosine floor. Zero selects DefaultSearchMinScore;
	// a negative value admits every node.
	MinScore float64
	// DocumentID restricts the search to one document when set
	DocumentID string
	// Granularities restricts the node kinds searched; empty means all
	Granularities []hierarchy.Granularity
}

// Hit is one search result
type Hit struct {
	DocumentID  string
	RevisionID  string
	NodeID      string
	Granularity hierarchy.Granularity
	Title       string
	Score       float64
}

// Search scores the live nodes of every loaded head against query by cosine
// similarity. Results are ordered by descending score, ties broken by
// document then node id.
func (e *Engine) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	if want := e.opts.combinedDimension(); len(query) != want {
		return nil, errs.Dimension("search query", want, len(query))
	}
	k := opts.K
	if k <= 0 {
		k = DefaultSearchK
	}
	floor := opts.MinScore
	if floor == 0 {
		floor = DefaultSearchMinScore
	}
	var kinds map[hierarchy.Granularity]bool
	if len(opts.Granularities) > 0 {
		kinds = make(map[hierarchy.Granularity]bool, len(opts.Granularities))
		for _, g := range opts.Granularities {
			kinds[g] = true
		}
	}

	var heads []*hierarchy.Hierarchy
	if opts.DocumentID != "" {
		h, err := e.head(ctx, opts.DocumentID)
		if err != nil {
			return nil, err
		}
		heads = append(heads, h)
	} else {
		e.mu.RLock()
		for _, h := range e.heads {
			heads = append(heads, h)
		}
		e.mu.RUnlock()
	}

	var hits []Hit
	for _, h := range heads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, id := range h.LiveIDs() {
			n := h.Nodes[id]
			if kinds != nil && !kinds[n.Granularity] {
				continue
			}
			score := vector.Cosine(query, n.Vector)
			if score < floor {
				continue
			}
			hits = append(hits, Hit{
				DocumentID:  h.DocumentID,
				RevisionID:  h.RevisionID,
				NodeID:      id,
				Granularity: n.Granularity,
				Title:       n.Title,
				Score:       score,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.NodeID < b.NodeID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	e.metrics.RecordSearch(len(hits))
	return hits, nil
}

// SearchText embeds text as a paragraph and searches with the combined vector
func (e *Engine) SearchText(ctx context.Context, text string, opts SearchOptions) ([]Hit, error) {
	emb, err := e.gen.GenerateAll(ctx, text, view.Context{Granularity: hierarchy.Paragraph})
	if err != nil {
		return nil, err
	}
	n, err := e.builder.NewParagraph("query", "", text, emb)
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, n.Vector, opts)
}

// Stats summarizes the loaded corpus
type Stats struct {
	Documents     int
	LiveNodes     int
	InFlight      int
	ByGranularity map[string]int
}

// Stats counts the live nodes of every loaded head by granularity
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{Documents: len(e.heads), InFlight: len(e.inflight), ByGranularity: make(map[string]int)}
	for _, h := range e.heads {
		for _, id := range h.LiveIDs() {
			s.LiveNodes++
			s.ByGranularity[h.Nodes[id].Granularity.String()]++
		}
	}
	return s
}

// IsNotFound reports whether err means a missing document, revision or node
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
