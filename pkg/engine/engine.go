// ABOUTME: Engine wiring the incremental pipeline behind the produced API
// ABOUTME: Serializes commits per document and keeps committed heads for reads

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/internal/metrics"
	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/cache"
	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/reconcile"
	"github.com/nainya/boltindex/pkg/revision"
	"github.com/nainya/boltindex/pkg/update"
	"github.com/nainya/boltindex/pkg/validate"
	"github.com/nainya/boltindex/pkg/view"
)

const tracerName = "github.com/nainya/boltindex/pkg/engine"

// Deps are the process-scoped collaborators of an engine. Analyzer and Store
// are required; the rest may be nil.
type Deps struct {
	Analyzer analyzer.Analyzer
	Store    *revision.Store
	Cache    *cache.Cache
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
	Tracer   trace.Tracer
}

// UpdateResult describes a committed revision
type UpdateResult struct {
	DocumentID       string
	RevisionID       string
	ParentRevisionID string
	Seq              uint64
	Report           *validate.Report
	Summary          revision.Summary
	Impact           map[string]int
	FullRebuild      bool
}

// Engine runs ApplyUpdate and serves reads of committed revisions
type Engine struct {
	opts       Options
	gen        *view.Generator
	builder    *hierarchy.Builder
	detector   *change.Detector
	propagator *impact.Propagator
	updater    *update.Updater
	reconciler *reconcile.Reconciler
	validator  *validate.Validator
	store      *revision.Store
	cache      *cache.Cache
	metrics    *metrics.Metrics
	log        *logger.Logger
	tracer     trace.Tracer

	mu       sync.RWMutex
	locks    map[string]chan struct{}
	inflight map[string]context.CancelFunc
	heads    map[string]*hierarchy.Hierarchy
}

// New assembles an engine
func New(d Deps, opts Options) (*Engine, error) {
	if d.Analyzer == nil {
		return nil, errors.New("engine: analyzer is required")
	}
	if d.Store == nil {
		return nil, errors.New("engine: revision store is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("engine: dimension must be positive, got %d", opts.Dimension)
	}
	opts = opts.withDefaults()
	if _, err := opts.Policy.EffectiveWeights(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	gen := view.NewGenerator(d.Analyzer, opts.Dimension)
	b := hierarchy.NewBuilder(opts.Policy, opts.Dimension)
	b.SiblingThreshold = opts.SiblingThreshold
	b.MinMentions = opts.MinMentions

	var judge change.Judge
	if opts.UseJudge {
		judge = view.SemanticJudge{Generator: gen}
	}
	det := change.NewDetector(judge)
	det.MaterialThreshold = opts.MaterialThreshold
	det.PairThreshold = opts.PairThreshold
	det.Logger = d.Logger

	prop := impact.NewPropagator()
	prop.CascadeThreshold = opts.CascadeThreshold
	prop.MaxHops = opts.MaxHops

	val := validate.New()
	val.UnitEpsilon = opts.UnitEpsilon
	val.RegressionFloor = opts.RegressionFloor

	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		opts:       opts,
		gen:        gen,
		builder:    b,
		detector:   det,
		propagator: prop,
		updater:    update.New(gen, b, opts.Workers, d.Logger),
		reconciler: reconcile.New(b, d.Logger),
		validator:  val,
		store:      d.Store,
		cache:      d.Cache,
		metrics:    d.Metrics,
		log:        d.Logger,
		tracer:     tracer,
		locks:      make(map[string]chan struct{}),
		inflight:   make(map[string]context.CancelFunc),
		heads:      make(map[string]*hierarchy.Hierarchy),
	}, nil
}

// Warm loads the head of every committed document so Search sees the corpus
func (e *Engine) Warm(ctx context.Context) error {
	ids, err := e.store.Documents(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := e.head(ctx, id); err != nil {
			return fmt.Errorf("warm %s: %w", id, err)
		}
	}
	e.metrics.SetDocuments(len(ids))
	e.log.Info("engine warmed").Int("documents", len(ids)).Send()
	return nil
}

// acquire takes the document's update slot according to the conflict mode
func (e *Engine) acquire(ctx context.Context, documentID string) (func(), error) {
	e.mu.Lock()
	slot, ok := e.locks[documentID]
	if !ok {
		slot = make(chan struct{}, 1)
		e.locks[documentID] = slot
	}
	e.mu.Unlock()

	if e.opts.ConflictMode == Reject {
		select {
		case slot <- struct{}{}:
		default:
			return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrUpdateInProgress)
		}
	} else {
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() { <-slot }, nil
}

// Cancel aborts the in-flight update of a document. It reports whether an
// update was running; a cancelled update never commits.
func (e *Engine) Cancel(documentID string) bool {
	e.mu.Lock()
	cancel, ok := e.inflight[documentID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of running updates
func (e *Engine) InFlight() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.inflight)
}

// ApplyUpdate derives and commits a new revision of documentID from doc.
// The first revision of a document is built in full; later ones go through
// detection, propagation, selective regeneration, reconciliation and
// validation. Any error leaves the previous revision current.
func (e *Engine) ApplyUpdate(ctx context.Context, documentID string, doc *document.Document) (res *UpdateResult, err error) {
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, errs.ErrEmptyContent)
	}
	next := doc.Clone()
	if documentID == "" {
		documentID = next.ID
	}
	if documentID == "" {
		return nil, fmt.Errorf("document id: %w", errs.ErrEmptyContent)
	}
	next.ID = documentID

	release, err := e.acquire(ctx, documentID)
	if err != nil {
		e.metrics.RecordUpdate("rejected", 0, 0)
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight[documentID] = cancel
	e.mu.Unlock()
	e.metrics.UpdateStarted()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, documentID)
		e.mu.Unlock()
		cancel()
		e.metrics.UpdateFinished()
	}()

	ctx, span := e.tracer.Start(ctx, "engine.ApplyUpdate", trace.WithAttributes(attribute.String("document_id", documentID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	prev, err := e.head(ctx, documentID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		res, err = e.initial(ctx, next)
	case err != nil:
		err = fmt.Errorf("load head of %s: %w", documentID, err)
	default:
		res, err = e.incremental(ctx, prev, next)
	}

	if err != nil {
		outcome := "failed"
		if errs.KindOf(err) == errs.KindCanceled {
			outcome = "canceled"
		} else if errs.KindOf(err) == errs.KindValidation {
			outcome = "invalid"
		}
		e.metrics.RecordUpdate(outcome, 0, 0)
		e.log.LogUpdate(documentID, "", 0, 0, false, err)
		return res, err
	}
	e.metrics.RecordUpdate("committed", res.Summary.Regenerated, res.Summary.Preserved)
	e.log.LogUpdate(documentID, res.RevisionID, res.Summary.Regenerated, res.Summary.Preserved, res.FullRebuild, nil)
	return res, nil
}

// stage runs one pipeline step under a span with timing and logging
func (e *Engine) stage(ctx context.Context, name, documentID string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := e.tracer.Start(ctx, "engine."+name)
	defer span.End()
	start := time.Now()
	n, err := fn(ctx)
	d := time.Since(start)
	e.metrics.RecordStage(name, d)
	e.log.LogStage(name, documentID, d, n, err)
	span.SetAttributes(attribute.Int("nodes", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// build derives a complete hierarchy of doc
func (e *Engine) build(ctx context.Context, doc *document.Document, parentRevisionID string) (*hierarchy.Hierarchy, error) {
	var h *hierarchy.Hierarchy
	err := e.stage(ctx, "build", doc.ID, func(ctx context.Context) (int, error) {
		emb, err := e.gen.EmbedDocument(ctx, doc, e.opts.Workers)
		if err != nil {
			return 0, err
		}
		h, err = e.builder.BuildRevision(doc, emb, uuid.NewString(), parentRevisionID)
		if err != nil {
			return 0, err
		}
		return h.LiveCount(), nil
	})
	return h, err
}

func (e *Engine) initial(ctx context.Context, doc *document.Document) (*UpdateResult, error) {
	h, err := e.build(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	live := h.LiveCount()
	return e.finish(ctx, doc, h, nil, nil, nil, revision.Summary{Regenerated: live, Created: live, FullRebuild: true})
}

// incremental runs the selective pipeline, falling back to a full rebuild
// when a structural error makes the incremental result untrustworthy
func (e *Engine) incremental(ctx context.Context, prev *hierarchy.Hierarchy, next *document.Document) (*UpdateResult, error) {
	prevDoc, err := e.store.Document(ctx, prev.DocumentID, prev.RevisionID)
	if err != nil {
		return nil, fmt.Errorf("load previous document: %w", err)
	}

	var cs *change.ChangeSet
	err = e.stage(ctx, "detect", next.ID, func(ctx context.Context) (int, error) {
		var err error
		cs, err = e.detector.Detect(ctx, prevDoc, next, prev)
		if err != nil {
			return 0, err
		}
		return len(cs.Changed()), nil
	})
	if err != nil {
		return e.fallback(ctx, prev, next, err)
	}
	dlog := e.log.StageLogger("detect").WithFields(map[string]any{
		"document_id": next.ID,
		"revision_id": prev.RevisionID,
	})
	for _, id := range cs.Changed() {
		dlog.Debug("node changed").
			Str("node_id", id).
			Str("impact", cs.Impact(id).String()).
			Float64("magnitude", cs.Magnitude(id)).
			Send()
	}

	var m *impact.Map
	err = e.stage(ctx, "propagate", next.ID, func(ctx context.Context) (int, error) {
		var err error
		m, err = e.propagator.Propagate(cs, prev)
		if m != nil {
			return len(m.Affected()), err
		}
		return 0, err
	})
	if errors.Is(err, errs.ErrMaxHopsExceeded) && m != nil {
		e.log.StageLogger("propagate").Warn("hop bound reached, regenerating every node").
			Str("document_id", next.ID).Int("hops", m.Hops).Send()
	} else if err != nil {
		return e.fallback(ctx, prev, next, err)
	}

	var c *update.Candidate
	err = e.stage(ctx, "update", next.ID, func(ctx context.Context) (int, error) {
		var err error
		c, err = e.updater.Update(ctx, prev, m, next)
		if err != nil {
			return 0, err
		}
		return len(c.Regenerated), nil
	})
	if err != nil {
		return e.fallback(ctx, prev, next, err)
	}

	// cascading is decided on the recombined vectors
	if raised := e.propagator.Cascade(m, prev, c.Hierarchy); len(raised) > 0 {
		e.log.StageLogger("propagate").Debug("aggregates cascaded").
			Str("document_id", next.ID).Strs("node_ids", raised).Send()
	}
	counts := make(map[string]int)
	for l, n := range m.Counts() {
		counts[l.String()] = n
	}
	e.metrics.RecordImpact(counts)

	var rec *reconcile.Result
	err = e.stage(ctx, "reconcile", next.ID, func(ctx context.Context) (int, error) {
		var err error
		rec, err = e.reconciler.Reconcile(ctx, c)
		if err != nil {
			return 0, err
		}
		return len(rec.Rescored) + len(rec.Created) + len(rec.Tombstoned), nil
	})
	if err != nil {
		return e.fallback(ctx, prev, next, err)
	}

	sum := revision.Summary{
		Regenerated: len(rec.Regenerated),
		Preserved:   c.Preserved(),
		Created:     len(c.Created) + len(rec.Created),
		Tombstoned:  len(c.Tombstoned) + len(rec.Tombstoned),
		FullRebuild: m.Full,
	}
	res, err := e.finish(ctx, next, rec.Hierarchy, prev, cs, rec.Impact, sum)
	if res != nil {
		res.Impact = counts
	}
	return res, err
}

// fallback rebuilds next from scratch after a structural failure. Capability,
// cancellation and input errors abort the update instead.
func (e *Engine) fallback(ctx context.Context, prev *hierarchy.Hierarchy, next *document.Document, cause error) (*UpdateResult, error) {
	if errs.KindOf(cause) != errs.KindStructural {
		return nil, cause
	}
	e.log.StageLogger("fallback").Warn("incremental update failed, rebuilding").
		Str("document_id", next.ID).Err(cause).Send()
	h, err := e.build(ctx, next, prev.RevisionID)
	if err != nil {
		return nil, err
	}
	live := h.LiveCount()
	sum := revision.Summary{
		Regenerated: live,
		Created:     live,
		Tombstoned:  prev.LiveCount(),
		FullRebuild: true,
		Warnings:    []string{"full rebuild: " + cause.Error()},
	}
	return e.finish(ctx, next, h, prev, nil, nil, sum)
}

// finish validates and commits a candidate hierarchy
func (e *Engine) finish(ctx context.Context, doc *document.Document, h, prev *hierarchy.Hierarchy, cs *change.ChangeSet, m *impact.Map, sum revision.Summary) (*UpdateResult, error) {
	res := &UpdateResult{
		DocumentID:       h.DocumentID,
		RevisionID:       h.RevisionID,
		ParentRevisionID: h.ParentRevisionID,
		FullRebuild:      sum.FullRebuild,
	}

	var report *validate.Report
	err := e.stage(ctx, "validate", h.DocumentID, func(ctx context.Context) (int, error) {
		var err error
		report, err = e.validator.Validate(h, prev, cs, m)
		return h.LiveCount(), err
	})
	res.Report = report
	if report != nil {
		for _, f := range report.Fatal {
			e.metrics.RecordFinding(f.Check, true)
		}
		for _, f := range report.Warnings {
			e.metrics.RecordFinding(f.Check, false)
			sum.Warnings = append(sum.Warnings, f.Check+": "+f.Message)
		}
	}
	if err != nil {
		return res, err
	}

	// cancellation is honoured up to the head swap
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var manifest *revision.Manifest
	err = e.stage(ctx, "commit", h.DocumentID, func(ctx context.Context) (int, error) {
		var err error
		manifest, err = e.store.Commit(ctx, h, doc, sum)
		return len(h.Nodes), err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.heads[h.DocumentID] = h
	docs := len(e.heads)
	e.mu.Unlock()
	e.cache.PutRevision(h)
	e.metrics.SetDocuments(docs)

	res.Seq = manifest.Seq
	res.Summary = sum
	return res, nil
}
