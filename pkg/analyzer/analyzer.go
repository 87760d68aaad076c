// ABOUTME: Analyzer capability consumed by the view generators
// ABOUTME: Request/result types, the View enum and the Analyzer interface

package analyzer

import (
	"context"
	"errors"
	"fmt"
)

// ErrRejected marks a request the analyzer will never accept; guards do not retry it
var ErrRejected = errors.New("analyzer: request rejected")

// View is one independent lens on content
type View int

const (
	Structural View = iota
	Semantic
	Pragmatic
)

// Views lists every view in combination order
var Views = [3]View{Structural, Semantic, Pragmatic}

func (v View) String() string {
	switch v {
	case Structural:
		return "structural"
	case Semantic:
		return "semantic"
	case Pragmatic:
		return "pragmatic"
	default:
		return fmt.Sprintf("view(%d)", int(v))
	}
}

// Request is one analysis call
type Request struct {
	Text            string
	View            View
	ContentTypeHint string
	Context         map[string]string // granularity context for pragmatic analysis
}

// Result is the analyzer's answer: a raw vector plus optional features
type Result struct {
	Vector   []float32
	Features map[string]float64
	Model    string
}

// Analyzer is an opaque, possibly non-deterministic text analysis capability
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Analyzer interface
type Func func(ctx context.Context, req Request) (*Result, error)

// Analyze calls f
func (f Func) Analyze(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
