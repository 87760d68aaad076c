package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

// Hashing is a deterministic local analyzer using signed feature hashing.
// Every view is salted differently so the three views of one span diverge.
type Hashing struct {
	Dim int
}

// NewHashing creates a hashing analyzer producing dim-dimensional vectors
func NewHashing(dim int) *Hashing {
	return &Hashing{Dim: dim}
}

// Analyze hashes word, bigram and character trigram features into a unit vector
func (h *Hashing) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if document.IsBlank(req.Text) {
		return nil, errs.ErrEmptyContent
	}
	if h.Dim <= 0 {
		return nil, fmt.Errorf("%w: hashing dimension %d", ErrRejected, h.Dim)
	}

	salt := req.View.String() + "\x00"
	vec := make([]float32, h.Dim)
	tokens := document.Tokens(req.Text)

	unigram, bigram, trigram := 1.0, 0.5, 0.25
	if req.View == Pragmatic {
		unigram, bigram = 0.5, 0.25
	}

	for i, tok := range tokens {
		h.add(vec, salt+"w:"+tok, unigram)
		if i > 0 {
			h.add(vec, salt+"b:"+tokens[i-1]+" "+tok, bigram)
		}
	}
	runes := []rune(strings.ToLower(strings.Join(strings.Fields(req.Text), " ")))
	for i := 0; i+3 <= len(runes); i++ {
		h.add(vec, salt+"c:"+string(runes[i:i+3]), trigram)
	}
	if len(runes) < 3 {
		h.add(vec, salt+"c:"+string(runes), trigram)
	}

	if req.View == Pragmatic {
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.add(vec, salt+"ctx:"+k+"="+strings.ToLower(req.Context[k]), 1)
		}
		if req.ContentTypeHint != "" {
			h.add(vec, salt+"type:"+req.ContentTypeHint, 1)
		}
	}

	if !vector.NormalizeInPlace(vec) {
		return nil, fmt.Errorf("%w: no hashable features", errs.ErrAnalysisUnavailable)
	}
	return &Result{
		Vector:   vec,
		Features: map[string]float64{"tokens": float64(len(tokens))},
		Model:    "hashing",
	}, nil
}

func (h *Hashing) add(vec []float32, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.Dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += float32(weight)
}
