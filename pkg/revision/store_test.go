// ABOUTME: Tests for the revision store
// ABOUTME: Verifies commit ordering, history and point-in-time lookups

package revision

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/storage"
	"github.com/nainya/boltindex/pkg/view"
)

const dim = 32

func testDocument() *document.Document {
	return &document.Document{
		ID:    "handbook",
		Title: "Handbook",
		Sections: []document.Section{
			{Heading: "Leave", Paragraphs: []string{"Employees accrue leave monthly.", "Leave requests need approval."}},
			{Heading: "Expenses", Paragraphs: []string{"Receipts are required for expenses.", "Expenses are reimbursed monthly."}},
		},
	}
}

func buildRevision(t *testing.T, doc *document.Document, rev, parent string) *hierarchy.Hierarchy {
	t.Helper()
	gen := view.NewGenerator(analyzer.NewHashing(dim), dim)
	emb, err := gen.EmbedDocument(context.Background(), doc, 2)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	h, err := hierarchy.NewBuilder(combiner.DefaultPolicy(), dim).BuildRevision(doc, emb, rev, parent)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	return h
}

func setupTestStore(t *testing.T, codec storage.Codec) *Store {
	s := NewStore(storage.NewMemory(), codec, nil)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	return s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	return data
}

func TestCommitAndLoad(t *testing.T) {
	for _, codec := range []storage.Codec{storage.CodecNone, storage.CodecLZ4, storage.CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStore(t, codec)
			doc := testDocument()
			h := buildRevision(t, doc, "rev-1", "")

			m, err := s.Commit(ctx, h, doc, Summary{Created: len(h.Nodes)})
			if err != nil {
				t.Fatalf("Failed to commit: %v", err)
			}
			if m.Seq != 1 {
				t.Errorf("Expected seq 1, got %d", m.Seq)
			}
			if m.Codec != codec.String() {
				t.Errorf("Expected codec %s, got %s", codec, m.Codec)
			}

			loaded, err := s.Load(ctx, "handbook", "")
			if err != nil {
				t.Fatalf("Failed to load: %v", err)
			}
			if loaded.RevisionID != "rev-1" || loaded.RootID != h.RootID {
				t.Errorf("Expected rev-1 rooted at %s, got %s rooted at %s", h.RootID, loaded.RevisionID, loaded.RootID)
			}
			if len(loaded.Nodes) != len(h.Nodes) {
				t.Fatalf("Expected %d nodes, got %d", len(h.Nodes), len(loaded.Nodes))
			}
			for id, n := range h.Nodes {
				if !bytes.Equal(mustJSON(t, n), mustJSON(t, loaded.Nodes[id])) {
					t.Errorf("Node %s changed across commit", id)
				}
			}
			if len(loaded.Children(loaded.RootID)) != 2 {
				t.Errorf("Expected 2 sections under root, got %d", len(loaded.Children(loaded.RootID)))
			}
			if err := loaded.CheckForest(); err != nil {
				t.Errorf("Loaded hierarchy is not a forest: %v", err)
			}

			got, err := s.Document(ctx, "handbook", "rev-1")
			if err != nil {
				t.Fatalf("Failed to read document: %v", err)
			}
			if got.Sections[1].Paragraphs[0] != doc.Sections[1].Paragraphs[0] {
				t.Errorf("Document content changed across commit")
			}
		})
	}
}

func TestNodeReadsSingleRecord(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, storage.CodecZstd)
	h := buildRevision(t, testDocument(), "rev-1", "")
	if _, err := s.Commit(ctx, h, nil, Summary{}); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	id := h.Paragraphs(h.Sections()[0])[1]
	n, err := s.Node(ctx, "handbook", "", id)
	if err != nil {
		t.Fatalf("Failed to read node: %v", err)
	}
	if n.ContentHash != h.Nodes[id].ContentHash {
		t.Errorf("Expected hash %s, got %s", h.Nodes[id].ContentHash, n.ContentHash)
	}

	_, err = s.Node(ctx, "handbook", "", "para-999")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMissingDocument(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, storage.CodecNone)

	if _, err := s.Head(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for head, got %v", err)
	}
	if _, err := s.Load(ctx, "nope", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for load, got %v", err)
	}
	if _, err := s.History(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for history, got %v", err)
	}
}

func commitChain(t *testing.T, s *Store, n int) []*Manifest {
	t.Helper()
	ctx := context.Background()
	doc := testDocument()
	var out []*Manifest
	parent := ""
	for i := range n {
		rev := []string{"rev-a", "rev-b", "rev-c", "rev-d"}[i]
		doc.Sections[0].Paragraphs[0] = "Employees accrue leave " + rev + "."
		m, err := s.Commit(ctx, buildRevision(t, doc, rev, parent), doc, Summary{})
		if err != nil {
			t.Fatalf("Failed to commit %s: %v", rev, err)
		}
		out = append(out, m)
		parent = rev
	}
	return out
}

func TestHistoryAndLineage(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, storage.CodecNone)
	commitChain(t, s, 3)

	head, err := s.Head(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to read head: %v", err)
	}
	if head != "rev-c" {
		t.Errorf("Expected head rev-c, got %s", head)
	}

	hist, err := s.History(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(hist.Revisions) != 3 {
		t.Fatalf("Expected 3 revisions, got %d", len(hist.Revisions))
	}
	for i, want := range []string{"rev-a", "rev-b", "rev-c"} {
		if hist.Revisions[i].RevisionID != want || hist.Revisions[i].Seq != uint64(i+1) {
			t.Errorf("Revision %d: expected %s seq %d, got %s seq %d",
				i, want, i+1, hist.Revisions[i].RevisionID, hist.Revisions[i].Seq)
		}
	}

	chain, err := s.Lineage(ctx, "handbook", "rev-c")
	if err != nil {
		t.Fatalf("Failed to walk lineage: %v", err)
	}
	if len(chain) != 3 || chain[0].RevisionID != "rev-c" || chain[2].RevisionID != "rev-a" {
		t.Errorf("Unexpected lineage order")
	}

	old, err := s.Load(ctx, "handbook", "rev-a")
	if err != nil {
		t.Fatalf("Failed to load old revision: %v", err)
	}
	if old.RevisionID != "rev-a" {
		t.Errorf("Expected rev-a, got %s", old.RevisionID)
	}
}

func TestAsOf(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, storage.CodecNone)
	ms := commitChain(t, s, 3)

	m, err := s.AsOf(ctx, "handbook", ms[1].CommittedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed point-in-time lookup: %v", err)
	}
	if m.RevisionID != "rev-b" {
		t.Errorf("Expected rev-b, got %s", m.RevisionID)
	}

	m, err = s.AsOf(ctx, "handbook", ms[2].CommittedAt)
	if err != nil {
		t.Fatalf("Failed point-in-time lookup: %v", err)
	}
	if m.RevisionID != "rev-c" {
		t.Errorf("Expected rev-c, got %s", m.RevisionID)
	}

	_, err = s.AsOf(ctx, "handbook", ms[0].CommittedAt.Add(-time.Minute))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before first commit, got %v", err)
	}
}

// failingBackend rejects writes to one key
type failingBackend struct {
	*storage.Memory
	failKey string
}

func (f *failingBackend) Store(ctx context.Context, key string, data []byte) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.Memory.Store(ctx, key, data)
}

func TestFailedCommitKeepsPreviousHead(t *testing.T) {
	ctx := context.Background()
	be := &failingBackend{Memory: storage.NewMemory()}
	s := NewStore(be, storage.CodecNone, nil)
	doc := testDocument()
	if _, err := s.Commit(ctx, buildRevision(t, doc, "rev-1", ""), doc, Summary{}); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	be.failKey = revisionKey("handbook", "rev-2", keyManifest)
	if _, err := s.Commit(ctx, buildRevision(t, doc, "rev-2", "rev-1"), doc, Summary{}); err == nil {
		t.Fatal("Expected commit to fail")
	}
	head, err := s.Head(ctx, "handbook")
	if err != nil {
		t.Fatalf("Failed to read head: %v", err)
	}
	if head != "rev-1" {
		t.Errorf("Expected head to stay rev-1, got %s", head)
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, storage.CodecNone)
	for _, id := range []string{"b-doc", "a-doc"} {
		doc := testDocument()
		doc.ID = id
		if _, err := s.Commit(ctx, buildRevision(t, doc, "rev-1", ""), doc, Summary{}); err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
	}
	ids, err := s.Documents(ctx)
	if err != nil {
		t.Fatalf("Failed to list documents: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a-doc" || ids[1] != "b-doc" {
		t.Errorf("Expected [a-doc b-doc], got %v", ids)
	}
}
