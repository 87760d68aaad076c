// ABOUTME: Document sources feeding revisions into the engine
// ABOUTME: Source contract plus the in-memory implementation

package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
)

// Notification announces that a document has a new revision or was removed
type Notification struct {
	DocumentID string
	Revision   string
	Removed    bool
	At         time.Time
}

// Source provides document revisions. An empty revision means the latest.
type Source interface {
	GetDocument(ctx context.Context, documentID, revision string) (*document.Document, error)
	List(ctx context.Context) ([]string, error)
	// Watch streams notifications until ctx ends; the channel is then closed
	Watch(ctx context.Context) <-chan Notification
}

// notifier fans notifications out to watchers
type notifier struct {
	mu       sync.Mutex
	watchers map[chan Notification]struct{}
}

func (n *notifier) subscribe(ctx context.Context, buffer int) <-chan Notification {
	ch := make(chan Notification, buffer)
	n.mu.Lock()
	if n.watchers == nil {
		n.watchers = make(map[chan Notification]struct{})
	}
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch
}

// publish never blocks; a full watcher misses the notification
func (n *notifier) publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.watchers {
		select {
		case ch <- note:
		default:
		}
	}
}

// Memory keeps every revision of every document in memory
type Memory struct {
	notifier
	mu   sync.RWMutex
	docs map[string][]*document.Document
}

// NewMemory creates an empty in-memory source
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]*document.Document)}
}

// Put stores doc as the latest revision of its document and returns the
// revision label. Documents without a Revision get a sequence number.
func (m *Memory) Put(doc *document.Document) string {
	cp := doc.Clone()
	m.mu.Lock()
	if cp.Revision == "" {
		cp.Revision = strconv.Itoa(len(m.docs[cp.ID]) + 1)
	}
	m.docs[cp.ID] = append(m.docs[cp.ID], cp)
	m.mu.Unlock()

	m.publish(Notification{DocumentID: cp.ID, Revision: cp.Revision, At: time.Now()})
	return cp.Revision
}

// Remove forgets a document
func (m *Memory) Remove(documentID string) {
	m.mu.Lock()
	delete(m.docs, documentID)
	m.mu.Unlock()
	m.publish(Notification{DocumentID: documentID, Removed: true, At: time.Now()})
}

func (m *Memory) GetDocument(ctx context.Context, documentID, revision string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.docs[documentID]
	if len(revs) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrNotFound)
	}
	if revision == "" {
		return revs[len(revs)-1].Clone(), nil
	}
	for i := len(revs) - 1; i >= 0; i-- {
		if revs[i].Revision == revision {
			return revs[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("document %s revision %s: %w", documentID, revision, errs.ErrNotFound)
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Watch(ctx context.Context) <-chan Notification {
	return m.subscribe(ctx, 64)
}
