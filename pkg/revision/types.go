// ABOUTME: Revision store data model
// ABOUTME: Manifests describe one committed revision and its lineage

package revision

import (
	"time"

	"github.com/nainya/boltindex/pkg/hierarchy"
)

// Summary is the outcome of the update that produced a revision
type Summary struct {
	Regenerated int      `json:"regenerated"`
	Preserved   int      `json:"preserved"`
	Created     int      `json:"created"`
	Tombstoned  int      `json:"tombstoned"`
	FullRebuild bool     `json:"full_rebuild,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Manifest describes a committed revision. Node records live in a separate
// bundle; the manifest carries everything else needed to rebuild the graph.
type Manifest struct {
	DocumentID       string           `json:"document_id"`
	RevisionID       string           `json:"revision_id"`
	ParentRevisionID string           `json:"parent_revision_id,omitempty"`
	Seq              uint64           `json:"seq"` // 1 for the first revision of a document
	RootID           string           `json:"root_id"`
	Dimension        int              `json:"dimension"`
	NextSeq          uint64           `json:"next_seq"`
	CreatedAt        time.Time        `json:"created_at"`
	CommittedAt      time.Time        `json:"committed_at"`
	NodeIDs          []string         `json:"node_ids"`
	LiveNodes        int              `json:"live_nodes"`
	Edges            []hierarchy.Edge `json:"edges"`
	Codec            string           `json:"codec"`
	Summary          Summary          `json:"summary"`
}

// History is the revision timeline of one document, oldest first
type History struct {
	DocumentID string
	Revisions  []*Manifest
}
