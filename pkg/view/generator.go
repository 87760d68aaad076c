// ABOUTME: View generators turning a content span into normalized view embeddings
// ABOUTME: Structural is local; semantic and pragmatic go through the analyzer

package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/boltindex/pkg/analyzer"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/vector"
)

// Embedding is one normalized view vector of a span
type Embedding struct {
	View        analyzer.View
	Vector      []float32
	Features    map[string]float64
	ContentHash string
}

// Context is the granularity context of a span
type Context struct {
	Granularity hierarchy.Granularity
	HeadingPath []string
	Position    int
	Siblings    int
	ContentType string
}

func (c Context) request() map[string]string {
	m := map[string]string{
		"granularity": c.Granularity.String(),
		"position":    strconv.Itoa(c.Position),
		"siblings":    strconv.Itoa(c.Siblings),
	}
	if len(c.HeadingPath) > 0 {
		m["heading_path"] = strings.Join(c.HeadingPath, " > ")
	}
	return m
}

// Generator produces view embeddings in the corpus dimension
type Generator struct {
	analyzer analyzer.Analyzer
	dim      int
}

// NewGenerator creates a generator backed by a
func NewGenerator(a analyzer.Analyzer, dim int) *Generator {
	return &Generator{analyzer: a, dim: dim}
}

// Dimension is the corpus view dimension
func (g *Generator) Dimension() int {
	return g.dim
}

// Generate produces one view of text. The result is unit-norm.
func (g *Generator) Generate(ctx context.Context, text string, gctx Context, v analyzer.View) (*Embedding, error) {
	if document.IsBlank(text) {
		return nil, errs.ErrEmptyContent
	}
	hash := hierarchy.ContentHash(gctx.Granularity, text)

	if v == analyzer.Structural {
		features := StructuralFeatures(text, gctx.Granularity)
		vec := structuralVector(features, gctx.Granularity, g.dim)
		if !vector.NormalizeInPlace(vec) {
			return nil, fmt.Errorf("structural view: %w", errs.ErrZeroVector)
		}
		return &Embedding{View: v, Vector: vec, Features: features, ContentHash: hash}, nil
	}

	req := analyzer.Request{Text: text, View: v, ContentTypeHint: gctx.ContentType}
	if v == analyzer.Pragmatic {
		req.Context = gctx.request()
	}
	res, err := g.analyzer.Analyze(ctx, req)
	if err != nil {
		if errs.KindOf(err) == errs.KindInput || errs.KindOf(err) == errs.KindCanceled {
			return nil, err
		}
		if !errors.Is(err, errs.ErrAnalysisUnavailable) {
			err = fmt.Errorf("%w: %w", errs.ErrAnalysisUnavailable, err)
		}
		return nil, fmt.Errorf("%s view: %w", v, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%s view: %w: nil result", v, errs.ErrAnalysisUnavailable)
	}

	vec := vector.PadOrTruncate(res.Vector, g.dim)
	if !vector.NormalizeInPlace(vec) {
		return nil, fmt.Errorf("%s view: %w: degenerate vector", v, errs.ErrAnalysisUnavailable)
	}
	return &Embedding{View: v, Vector: vec, Features: res.Features, ContentHash: hash}, nil
}

// GenerateAll produces the three views of text; the analyzer-backed views run concurrently
func (g *Generator) GenerateAll(ctx context.Context, text string, gctx Context) (hierarchy.SpanEmbedding, error) {
	var out [3]*Embedding

	structural, err := g.Generate(ctx, text, gctx, analyzer.Structural)
	if err != nil {
		return hierarchy.SpanEmbedding{}, err
	}
	out[analyzer.Structural] = structural

	eg, egCtx := errgroup.WithContext(ctx)
	for _, v := range []analyzer.View{analyzer.Semantic, analyzer.Pragmatic} {
		eg.Go(func() error {
			e, err := g.Generate(egCtx, text, gctx, v)
			if err != nil {
				return err
			}
			out[v] = e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return hierarchy.SpanEmbedding{}, err
	}

	features := make(map[string]float64, len(structural.Features))
	for k, v := range structural.Features {
		features[k] = v
	}
	return hierarchy.SpanEmbedding{
		Structural: hierarchy.ViewVector{Vector: out[analyzer.Structural].Vector, ContentHash: out[analyzer.Structural].ContentHash},
		Semantic:   hierarchy.ViewVector{Vector: out[analyzer.Semantic].Vector, ContentHash: out[analyzer.Semantic].ContentHash},
		Pragmatic:  hierarchy.ViewVector{Vector: out[analyzer.Pragmatic].Vector, ContentHash: out[analyzer.Pragmatic].ContentHash},
		Features:   features,
	}, nil
}

// SpanContext derives the granularity context of a span within doc
func SpanContext(doc *document.Document, span document.Span) Context {
	c := Context{HeadingPath: span.HeadingPath, ContentType: doc.ContentType}
	switch span.Key.Kind {
	case document.SpanTitle:
		c.Granularity = hierarchy.Document
	case document.SpanHeading:
		c.Granularity = hierarchy.Section
		c.Position = span.Key.Section
		c.Siblings = len(doc.Sections)
	default:
		c.Granularity = hierarchy.Paragraph
		c.Position = span.Key.Paragraph
		c.Siblings = len(doc.Sections[span.Key.Section].Paragraphs)
	}
	return c
}

// EmbedSpans generates all views for the given spans with at most workers in flight
func (g *Generator) EmbedSpans(ctx context.Context, doc *document.Document, spans []document.Span, workers int) (hierarchy.Embeddings, error) {
	results := make([]hierarchy.SpanEmbedding, len(spans))

	eg, egCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for i, span := range spans {
		eg.Go(func() error {
			e, err := g.GenerateAll(egCtx, span.Text, SpanContext(doc, span))
			if err != nil {
				return fmt.Errorf("%s %d.%d: %w", span.Key.Kind, span.Key.Section, span.Key.Paragraph, err)
			}
			results[i] = e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(hierarchy.Embeddings, len(spans))
	for i, span := range spans {
		out[span.Key] = results[i]
	}
	return out, nil
}

// EmbedDocument generates views for every span of doc
func (g *Generator) EmbedDocument(ctx context.Context, doc *document.Document, workers int) (hierarchy.Embeddings, error) {
	return g.EmbedSpans(ctx, doc, doc.Spans(), workers)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SemanticJudge measures meaning drift as the cosine distance of semantic views
type SemanticJudge struct {
	Generator *Generator
}

// Distance returns 1 - cosine(semantic(old), semantic(new))
func (j SemanticJudge) Distance(ctx context.Context, old, new string, g hierarchy.Granularity) (float64, error) {
	gctx := Context{Granularity: g}
	a, err := j.Generator.Generate(ctx, old, gctx, analyzer.Semantic)
	if err != nil {
		return 0, err
	}
	b, err := j.Generator.Generate(ctx, new, gctx, analyzer.Semantic)
	if err != nil {
		return 0, err
	}
	return vector.CosineDistance(a.Vector, b.Vector), nil
}
