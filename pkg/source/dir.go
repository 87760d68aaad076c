package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
)

// DirOptions configures a directory source
type DirOptions struct {
	// Extension selects document files; default ".md"
	Extension string
	// Debounce is how long a file must stay quiet before it is announced
	Debounce time.Duration
	Logger   *logger.Logger
}

// DefaultDirOptions returns markdown files with a 200ms debounce
func DefaultDirOptions() DirOptions {
	return DirOptions{Extension: ".md", Debounce: 200 * time.Millisecond}
}

// Dir serves the markdown files of one directory. The document id is the
// file name without its extension; the revision label is a hash of the
// file content, so only the current revision can be read.
type Dir struct {
	notifier
	root string
	opts DirOptions
	log  *logger.Logger

	startOnce sync.Once
	startErr  error
}

// NewDir creates a source over root
func NewDir(root string, opts DirOptions) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("document directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document directory %s is not a directory", root)
	}
	if opts.Extension == "" {
		opts.Extension = ".md"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	return &Dir{root: root, opts: opts, log: opts.Logger}, nil
}

// documentID maps a file path to its document id
func (d *Dir) documentID(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, d.opts.Extension) || strings.HasPrefix(base, ".") {
		return "", false
	}
	return strings.TrimSuffix(base, d.opts.Extension), true
}

func revisionOf(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

func (d *Dir) GetDocument(ctx context.Context, documentID, revision string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if documentID == "" || strings.ContainsAny(documentID, `/\`) {
		return nil, fmt.Errorf("document %q: %w", documentID, errs.ErrNotFound)
	}
	path := filepath.Join(d.root, documentID+d.opts.Extension)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("read document %s: %w", documentID, err)
	}
	rev := revisionOf(content)
	if revision != "" && revision != rev {
		return nil, fmt.Errorf("document %s revision %s: %w", documentID, revision, errs.ErrNotFound)
	}
	doc := document.Parse(documentID, string(content))
	doc.Revision = rev
	doc.ContentType = "text/markdown"
	if info, err := os.Stat(path); err == nil {
		doc.UpdatedAt = info.ModTime().UTC()
	}
	return doc, nil
}

func (d *Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := d.documentID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Watch starts the fsnotify watcher on first use. Writes to a file are
// debounced so an editor's burst of events yields one notification.
func (d *Dir) Watch(ctx context.Context) <-chan Notification {
	ch := d.subscribe(ctx, 64)
	d.startOnce.Do(func() {
		d.startErr = d.start(ctx)
		if d.startErr != nil {
			d.log.Error("directory watch failed").Str("root", d.root).Err(d.startErr).Send()
		}
	})
	return ch
}

func (d *Dir) start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.root); err != nil {
		_ = w.Close()
		return err
	}
	go d.run(ctx, w)
	return nil
}

func (d *Dir) run(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	pending := make(map[string]bool) // id -> removed
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			note := Notification{DocumentID: id, Removed: pending[id], At: time.Now()}
			if !note.Removed {
				if doc, err := d.GetDocument(ctx, id, ""); err == nil {
					note.Revision = doc.Revision
				} else {
					note.Removed = true
				}
			}
			d.publish(note)
		}
		clear(pending)
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			id, ok := d.documentID(ev.Name)
			if !ok {
				continue
			}
			pending[id] = ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
			if timer == nil {
				timer = time.NewTimer(d.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(d.opts.Debounce)
			}
		case <-timerC:
			flush()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.Warn("directory watch error").Str("root", d.root).Err(err).Send()
		}
	}
}
