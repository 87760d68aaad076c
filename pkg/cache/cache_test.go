package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/hierarchy"
)

type counter struct{ hits, misses int }

func (c *counter) CacheHit()  { c.hits++ }
func (c *counter) CacheMiss() { c.misses++ }

func revision(rev string) *hierarchy.Hierarchy {
	h := hierarchy.New("doc", rev, 2)
	for _, id := range []string{"doc-0", "sec-1", "para-2"} {
		h.PutNode(&hierarchy.Node{ID: id, Vector: []float32{1, 0}, RevisionID: rev})
	}
	h.PutNode(&hierarchy.Node{ID: "para-3", RevisionID: rev, Tombstoned: true})
	return h
}

func TestPutRevisionAndGet(t *testing.T) {
	obs := &counter{}
	c, err := New(100, obs)
	require.NoError(t, err)
	defer c.Close()

	c.PutRevision(revision("r1"))

	n, ok := c.Get("doc", "r1", "sec-1")
	require.True(t, ok)
	assert.Equal(t, "r1", n.RevisionID)

	_, ok = c.Get("doc", "r2", "sec-1")
	assert.False(t, ok)
	_, ok = c.Get("doc", "r1", "para-3")
	assert.False(t, ok, "tombstones are not cached")

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 2, obs.misses)
}

func TestGetReturnsCopy(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)
	defer c.Close()

	c.PutRevision(revision("r1"))
	n, ok := c.Get("doc", "r1", "para-2")
	require.True(t, ok)
	n.Vector[0] = 42

	again, ok := c.Get("doc", "r1", "para-2")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	c.PutRevision(revision("r1"))
	_, ok := c.Get("doc", "r1", "sec-1")
	assert.False(t, ok)
	c.Close()
}

func TestClear(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)
	defer c.Close()
	c.PutRevision(revision("r1"))
	c.Clear()
	_, ok := c.Get("doc", "r1", "doc-0")
	assert.False(t, ok)
}
