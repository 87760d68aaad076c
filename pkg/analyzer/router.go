package analyzer

import (
	"context"
	"strings"
)

// Router selects an analyzer per content type from a lookup table
type Router struct {
	routes   map[string]Analyzer
	fallback Analyzer
}

// NewRouter creates a router; unknown or empty hints go to fallback
func NewRouter(fallback Analyzer, routes map[string]Analyzer) *Router {
	r := &Router{routes: make(map[string]Analyzer, len(routes)), fallback: fallback}
	for hint, a := range routes {
		r.routes[strings.ToLower(hint)] = a
	}
	return r
}

// Route returns the analyzer registered for hint
func (r *Router) Route(hint string) Analyzer {
	if a, ok := r.routes[strings.ToLower(hint)]; ok {
		return a
	}
	return r.fallback
}

// Analyze dispatches on the request's content type hint
func (r *Router) Analyze(ctx context.Context, req Request) (*Result, error) {
	return r.Route(req.ContentTypeHint).Analyze(ctx, req)
}
