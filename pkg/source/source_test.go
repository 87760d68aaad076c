package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
)

func handbook(p string) *document.Document {
	return &document.Document{
		ID:       "handbook",
		Title:    "Handbook",
		Sections: []document.Section{{Heading: "Leave", Paragraphs: []string{p}}},
	}
}

func TestMemoryRevisions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r1 := m.Put(handbook("Employees accrue leave monthly."))
	r2 := m.Put(handbook("Employees accrue leave weekly."))
	assert.Equal(t, "1", r1)
	assert.Equal(t, "2", r2)

	latest, err := m.GetDocument(ctx, "handbook", "")
	require.NoError(t, err)
	assert.Equal(t, "Employees accrue leave weekly.", latest.Sections[0].Paragraphs[0])

	first, err := m.GetDocument(ctx, "handbook", r1)
	require.NoError(t, err)
	assert.Equal(t, "Employees accrue leave monthly.", first.Sections[0].Paragraphs[0])

	_, err = m.GetDocument(ctx, "handbook", "9")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = m.GetDocument(ctx, "other", "")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"handbook"}, ids)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	doc := handbook("a")
	m.Put(doc)
	doc.Sections[0].Paragraphs[0] = "mutated"

	got, err := m.GetDocument(ctx, "handbook", "")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Sections[0].Paragraphs[0])
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	ch := m.Watch(ctx)

	m.Put(handbook("a"))
	m.Remove("handbook")

	n := <-ch
	assert.Equal(t, "handbook", n.DocumentID)
	assert.Equal(t, "1", n.Revision)
	n = <-ch
	assert.True(t, n.Removed)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDirReadsMarkdown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "handbook.md", "# Handbook\n\n## Leave\n\nEmployees accrue leave monthly.\n")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".hidden.md", "ignored")

	src, err := NewDir(dir, DefaultDirOptions())
	require.NoError(t, err)

	ids, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"handbook"}, ids)

	doc, err := src.GetDocument(ctx, "handbook", "")
	require.NoError(t, err)
	assert.Equal(t, "Handbook", doc.Title)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Leave", doc.Sections[0].Heading)
	assert.NotEmpty(t, doc.Revision)

	same, err := src.GetDocument(ctx, "handbook", doc.Revision)
	require.NoError(t, err)
	assert.Equal(t, doc.Revision, same.Revision)

	_, err = src.GetDocument(ctx, "handbook", "0000000000000000")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = src.GetDocument(ctx, "missing", "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = src.GetDocument(ctx, "../etc/passwd", "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNewDirRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "x")
	_, err := NewDir(filepath.Join(dir, "a.md"), DirOptions{})
	assert.Error(t, err)
	_, err = NewDir(filepath.Join(dir, "nope"), DirOptions{})
	assert.Error(t, err)
}

// waitFor reads notifications until one matches
func waitFor(t *testing.T, ch <-chan Notification, match func(Notification) bool) Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-ch:
			if match(n) {
				return n
			}
		case <-deadline:
			t.Fatal("no matching notification")
			return Notification{}
		}
	}
}

func TestDirWatchAnnouncesWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	src, err := NewDir(dir, DirOptions{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ch := src.Watch(ctx)
	writeFile(t, dir, "handbook.md", "# Handbook\n\nFirst.\n")

	n := waitFor(t, ch, func(n Notification) bool { return n.DocumentID == "handbook" })
	assert.False(t, n.Removed)
	assert.NotEmpty(t, n.Revision)

	require.NoError(t, os.Remove(filepath.Join(dir, "handbook.md")))
	waitFor(t, ch, func(n Notification) bool { return n.DocumentID == "handbook" && n.Removed })
}
