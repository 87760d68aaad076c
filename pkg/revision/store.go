// ABOUTME: Revision store over a storage backend
// ABOUTME: Commits revisions head-last and serves history and point-in-time reads

package revision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/storage"
)

// Key layout under docs/<documentID>/
const (
	keyRoot      = "docs/"
	keyHead      = "head"
	keyRevisions = "revisions/"
	keyHistory   = "history/"
	keyManifest  = "manifest"
	keyNodes     = "nodes"
	keyDocument  = "document"
)

func docPrefix(documentID string) string {
	return keyRoot + documentID + "/"
}

func headKey(documentID string) string {
	return docPrefix(documentID) + keyHead
}

func revisionKey(documentID, revisionID, part string) string {
	return docPrefix(documentID) + keyRevisions + revisionID + "/" + part
}

// historyKey sorts lexicographically in commit order
func historyKey(documentID string, seq uint64, revisionID string) string {
	return fmt.Sprintf("%s%s%020d-%s", docPrefix(documentID), keyHistory, seq, revisionID)
}

// Store persists committed revisions
type Store struct {
	backend storage.Backend
	bundles *storage.BundleStore
	codec   storage.Codec
	log     *logger.Logger
	now     func() time.Time
}

// NewStore creates a revision store compressing node records with codec
func NewStore(backend storage.Backend, codec storage.Codec, log *logger.Logger) *Store {
	return &Store{
		backend: backend,
		bundles: storage.NewBundleStore(backend, codec),
		codec:   codec,
		log:     log,
		now:     time.Now,
	}
}

// Backend returns the underlying storage backend
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// Commit writes a validated revision. The node bundle, manifest, document and
// history entry are written first; the head pointer is swapped last, so a
// failure before that leaves the previous revision current.
func (s *Store) Commit(ctx context.Context, h *hierarchy.Hierarchy, doc *document.Document, sum Summary) (*Manifest, error) {
	if h == nil || h.DocumentID == "" || h.RevisionID == "" {
		return nil, errors.New("commit: hierarchy needs document and revision ids")
	}
	log := s.log.StorageLogger("commit")

	var seq uint64 = 1
	head, err := s.HeadManifest(ctx, h.DocumentID)
	switch {
	case err == nil:
		seq = head.Seq + 1
	case !errors.Is(err, errs.ErrNotFound):
		return nil, fmt.Errorf("commit %s: read head: %w", h.DocumentID, err)
	}

	ids := h.IDs()
	records := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		data, err := json.Marshal(h.Nodes[id])
		if err != nil {
			return nil, fmt.Errorf("encode node %s: %w", id, err)
		}
		records = append(records, storage.Record{ID: id, Data: data})
	}

	m := &Manifest{
		DocumentID:       h.DocumentID,
		RevisionID:       h.RevisionID,
		ParentRevisionID: h.ParentRevisionID,
		Seq:              seq,
		RootID:           h.RootID,
		Dimension:        h.Dimension,
		NextSeq:          h.NextSeq,
		CreatedAt:        h.CreatedAt,
		CommittedAt:      s.now().UTC(),
		NodeIDs:          ids,
		LiveNodes:        h.LiveCount(),
		Edges:            h.Edges,
		Codec:            s.codec.String(),
		Summary:          sum,
	}
	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	var docData []byte
	if doc != nil {
		if docData, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
	}

	if err := s.bundles.Put(ctx, revisionKey(h.DocumentID, h.RevisionID, keyNodes), records); err != nil {
		return nil, fmt.Errorf("write nodes: %w", err)
	}
	if err := s.backend.Store(ctx, revisionKey(h.DocumentID, h.RevisionID, keyManifest), manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if docData != nil {
		if err := s.backend.Store(ctx, revisionKey(h.DocumentID, h.RevisionID, keyDocument), docData); err != nil {
			return nil, fmt.Errorf("write document: %w", err)
		}
	}
	if err := s.backend.Store(ctx, historyKey(h.DocumentID, seq, h.RevisionID), []byte(h.RevisionID)); err != nil {
		return nil, fmt.Errorf("write history: %w", err)
	}
	// Nothing above is visible until the head moves
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.backend.Store(ctx, headKey(h.DocumentID), []byte(h.RevisionID)); err != nil {
		return nil, fmt.Errorf("swap head: %w", err)
	}

	log.Info("revision committed").
		Str("document_id", h.DocumentID).
		Str("revision_id", h.RevisionID).
		Uint64("seq", seq).
		Int("nodes", len(ids)).
		Send()
	return m, nil
}

// Head returns the current revision id of a document
func (s *Store) Head(ctx context.Context, documentID string) (string, error) {
	data, err := s.backend.Retrieve(ctx, headKey(documentID))
	if err != nil {
		return "", fmt.Errorf("document %s: %w", documentID, err)
	}
	return string(data), nil
}

// HeadManifest returns the manifest of the current revision
func (s *Store) HeadManifest(ctx context.Context, documentID string) (*Manifest, error) {
	rev, err := s.Head(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.Manifest(ctx, documentID, rev)
}

// resolve maps an empty revision id to the head
func (s *Store) resolve(ctx context.Context, documentID, revisionID string) (string, error) {
	if revisionID != "" {
		return revisionID, nil
	}
	return s.Head(ctx, documentID)
}

// Manifest returns the manifest of a revision; empty revisionID means head
func (s *Store) Manifest(ctx context.Context, documentID, revisionID string) (*Manifest, error) {
	rev, err := s.resolve(ctx, documentID, revisionID)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Retrieve(ctx, revisionKey(documentID, rev, keyManifest))
	if err != nil {
		return nil, fmt.Errorf("revision %s/%s: %w", documentID, rev, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s/%s: %w", documentID, rev, err)
	}
	return &m, nil
}

// Load reads a whole revision back into a hierarchy
func (s *Store) Load(ctx context.Context, documentID, revisionID string) (*hierarchy.Hierarchy, error) {
	m, err := s.Manifest(ctx, documentID, revisionID)
	if err != nil {
		return nil, err
	}
	records, err := s.bundles.Get(ctx, revisionKey(documentID, m.RevisionID, keyNodes))
	if err != nil {
		return nil, fmt.Errorf("revision %s/%s nodes: %w", documentID, m.RevisionID, err)
	}

	h := hierarchy.New(documentID, m.RevisionID, m.Dimension)
	h.ParentRevisionID = m.ParentRevisionID
	h.NextSeq = m.NextSeq
	h.CreatedAt = m.CreatedAt
	for _, r := range records {
		var n hierarchy.Node
		if err := json.Unmarshal(r.Data, &n); err != nil {
			return nil, fmt.Errorf("decode node %s: %w", r.ID, err)
		}
		h.Nodes[n.ID] = &n
	}
	h.RootID = m.RootID
	h.Edges = m.Edges
	h.Reindex()
	return h, nil
}

// Document returns the source document committed with a revision
func (s *Store) Document(ctx context.Context, documentID, revisionID string) (*document.Document, error) {
	rev, err := s.resolve(ctx, documentID, revisionID)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Retrieve(ctx, revisionKey(documentID, rev, keyDocument))
	if err != nil {
		return nil, fmt.Errorf("revision %s/%s document: %w", documentID, rev, err)
	}
	var doc document.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", documentID, rev, err)
	}
	return &doc, nil
}

// Node reads a single node record without loading the revision
func (s *Store) Node(ctx context.Context, documentID, revisionID, nodeID string) (*hierarchy.Node, error) {
	rev, err := s.resolve(ctx, documentID, revisionID)
	if err != nil {
		return nil, err
	}
	data, err := s.bundles.RetrievePartial(ctx, revisionKey(documentID, rev, keyNodes), nodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s in %s/%s: %w", nodeID, documentID, rev, err)
	}
	var n hierarchy.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", nodeID, err)
	}
	return &n, nil
}

// History returns every committed revision of a document, oldest first
func (s *Store) History(ctx context.Context, documentID string) (*History, error) {
	keys, err := s.backend.List(ctx, docPrefix(documentID)+keyHistory)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", documentID, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrNotFound)
	}
	type entry struct {
		seq uint64
		rev string
	}
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, docPrefix(documentID)+keyHistory)
		seqPart, rev, ok := strings.Cut(name, "-")
		if !ok {
			continue
		}
		seq, err := strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{seq: seq, rev: rev})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := &History{DocumentID: documentID}
	for _, e := range entries {
		m, err := s.Manifest(ctx, documentID, e.rev)
		if err != nil {
			return nil, err
		}
		out.Revisions = append(out.Revisions, m)
	}
	return out, nil
}

// Lineage walks parent pointers from revisionID back to the first revision
func (s *Store) Lineage(ctx context.Context, documentID, revisionID string) ([]*Manifest, error) {
	var chain []*Manifest
	seen := make(map[string]bool)
	rev := revisionID
	for {
		m, err := s.Manifest(ctx, documentID, rev)
		if err != nil {
			return nil, err
		}
		if seen[m.RevisionID] {
			return nil, fmt.Errorf("revision %s repeats in lineage: %w", m.RevisionID, errs.ErrStructuralCycle)
		}
		seen[m.RevisionID] = true
		chain = append(chain, m)
		if m.ParentRevisionID == "" {
			return chain, nil
		}
		rev = m.ParentRevisionID
	}
}

// AsOf returns the revision that was current at t
func (s *Store) AsOf(ctx context.Context, documentID string, t time.Time) (*Manifest, error) {
	hist, err := s.History(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var latest *Manifest
	for _, m := range hist.Revisions {
		if m.CommittedAt.After(t) {
			break
		}
		latest = m
	}
	if latest == nil {
		return nil, fmt.Errorf("no revision of %s as of %s: %w", documentID, t.Format(time.RFC3339), errs.ErrNotFound)
	}
	return latest, nil
}

// Documents lists every document with a committed head
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, keyRoot)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var ids []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, keyRoot)
		if id, ok := strings.CutSuffix(rest, "/"+keyHead); ok && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
