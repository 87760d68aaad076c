package combiner

import (
	"fmt"

	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

// Input is one view embedding as the combiner sees it
type Input struct {
	Vector      []float32
	ContentHash string
}

// Combine bolts three view embeddings of the same content into one unit vector
func Combine(structural, semantic, pragmatic Input, p Policy) ([]float32, error) {
	if structural.ContentHash != semantic.ContentHash || semantic.ContentHash != pragmatic.ContentHash {
		return nil, fmt.Errorf("%w: %q/%q/%q", errs.ErrContentHashMismatch,
			structural.ContentHash, semantic.ContentHash, pragmatic.ContentHash)
	}
	return CombineVectors(structural.Vector, semantic.Vector, pragmatic.Vector, p)
}

// CombineVectors applies the policy to three equal-dimension vectors without the
// content hash precondition; aggregate nodes combine summed views this way.
func CombineVectors(structural, semantic, pragmatic []float32, p Policy) ([]float32, error) {
	dim := len(structural)
	if len(semantic) != dim {
		return nil, errs.Dimension("combine semantic", dim, len(semantic))
	}
	if len(pragmatic) != dim {
		return nil, errs.Dimension("combine pragmatic", dim, len(pragmatic))
	}

	var out []float32
	switch p.Strategy {
	case Concatenation:
		out = make([]float32, 0, 3*dim)
		out = append(out, structural...)
		out = append(out, semantic...)
		out = append(out, pragmatic...)
	default:
		w, err := p.EffectiveWeights()
		if err != nil {
			return nil, err
		}
		out = Blend(structural, semantic, pragmatic, w)
	}

	if !vector.NormalizeInPlace(out) {
		return nil, fmt.Errorf("combine %s: %w", p.Strategy, errs.ErrZeroVector)
	}
	return out, nil
}

// Blend is the un-normalized weighted sum, accumulated per component in a fixed order
func Blend(structural, semantic, pragmatic []float32, w Weights) []float32 {
	out := make([]float32, len(structural))
	for i := range out {
		out[i] = float32(float64(structural[i])*w.Structural +
			float64(semantic[i])*w.Semantic +
			float64(pragmatic[i])*w.Pragmatic)
	}
	return out
}
