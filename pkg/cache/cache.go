// Package cache keeps recently served node records of committed revisions.
package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/nainya/boltindex/pkg/hierarchy"
)

// DefaultSize is the default capacity in entries
const DefaultSize = 10000

// Observer is told about every lookup
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Cache maps (document, revision, node) to a node record. Keys carry the
// revision id, so a new head never reads records of an older revision.
type Cache struct {
	c   *ristretto.Cache[string, *hierarchy.Node]
	obs Observer
}

// New creates a cache holding about size entries; obs may be nil
func New(size int, obs Observer) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *hierarchy.Node]{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create node cache: %w", err)
	}
	return &Cache{c: c, obs: obs}, nil
}

func key(documentID, revisionID, nodeID string) string {
	return documentID + "\x00" + revisionID + "\x00" + nodeID
}

// Get returns a copy of the cached record
func (c *Cache) Get(documentID, revisionID, nodeID string) (*hierarchy.Node, bool) {
	if c == nil {
		return nil, false
	}
	n, ok := c.c.Get(key(documentID, revisionID, nodeID))
	if c.obs != nil {
		if ok {
			c.obs.CacheHit()
		} else {
			c.obs.CacheMiss()
		}
	}
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Put caches one record of a committed revision
func (c *Cache) Put(documentID, revisionID string, n *hierarchy.Node) {
	if c == nil || n == nil {
		return
	}
	c.c.Set(key(documentID, revisionID, n.ID), n.Clone(), 1)
}

// PutRevision caches every live node of a committed revision
func (c *Cache) PutRevision(h *hierarchy.Hierarchy) {
	if c == nil || h == nil {
		return
	}
	for _, id := range h.LiveIDs() {
		c.Put(h.DocumentID, h.RevisionID, h.Nodes[id])
	}
	c.c.Wait()
}

// Wait blocks until buffered writes are applied
func (c *Cache) Wait() {
	if c != nil {
		c.c.Wait()
	}
}

// Clear drops every entry
func (c *Cache) Clear() {
	if c != nil {
		c.c.Clear()
	}
}

// Close releases the cache's goroutines
func (c *Cache) Close() {
	if c != nil {
		c.c.Close()
	}
}
