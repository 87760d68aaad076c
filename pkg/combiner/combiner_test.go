package combiner

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/errs"
	"github.com/nainya/boltindex/pkg/vector"
)

func in(v []float32) Input {
	return Input{Vector: v, ContentHash: "h"}
}

func TestOrthonormalWeightedCombine(t *testing.T) {
	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}
	e3 := []float32{0, 0, 1}
	w := DefaultWeights()

	raw := Blend(e1, e2, e3, w)
	assert.InDeltaSlice(t, []float32{0.3, 0.5, 0.2}, raw, 1e-7)

	out, err := Combine(in(e1), in(e2), in(e3), Policy{Strategy: WeightedAverage, Weights: w})
	require.NoError(t, err)

	norm := math.Sqrt(0.38)
	assert.InDeltaSlice(t, []float32{float32(0.3 / norm), float32(0.5 / norm), float32(0.2 / norm)}, out, 1e-6)
	assert.InDelta(t, 0.4867, out[0], 1e-4)
	assert.InDelta(t, 0.8111, out[1], 1e-4)
	assert.InDelta(t, 0.3244, out[2], 1e-4)
	assert.True(t, vector.IsUnit(out, vector.Epsilon))
}

func TestCombineDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gen := func() []float32 {
		v := make([]float32, 32)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		vector.NormalizeInPlace(v)
		return v
	}

	for _, strategy := range []Strategy{WeightedAverage, Concatenation, Adaptive} {
		p := Policy{Strategy: strategy, Weights: DefaultWeights(), ContentType: "code"}
		for i := 0; i < 20; i++ {
			s, m, g := gen(), gen(), gen()
			a, err := Combine(in(s), in(m), in(g), p)
			require.NoError(t, err)
			b, err := Combine(in(s), in(m), in(g), p)
			require.NoError(t, err)
			assert.True(t, vector.Equal(a, b), strategy.String())
			assert.True(t, vector.IsUnit(a, 1e-5))
		}
	}
}

func TestWeightValidity(t *testing.T) {
	cases := []struct {
		w     Weights
		valid bool
	}{
		{Weights{0.3, 0.5, 0.2}, true},
		{Weights{1, 0, 0}, true},
		{Weights{0.3, 0.5, 0.2009}, true},
		{Weights{0.3, 0.5, 0.1989}, false},
		{Weights{0.5, 0.5, 0.5}, false},
		{Weights{0, 0, 0}, false},
	}
	v := []float32{1, 0}
	for _, c := range cases {
		_, err := Combine(in(v), in(v), in(v), Policy{Strategy: WeightedAverage, Weights: c.w})
		if c.valid {
			assert.NoError(t, err, "%+v", c.w)
		} else {
			assert.ErrorIs(t, err, errs.ErrInvalidWeights, "%+v", c.w)
		}
	}
}

func TestConcatenationTriplesDimension(t *testing.T) {
	out, err := Combine(in([]float32{1, 0}), in([]float32{0, 1}), in([]float32{1, 0}), Policy{Strategy: Concatenation})
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.Equal(t, 6, Policy{Strategy: Concatenation}.OutputDim(2))
	assert.True(t, vector.IsUnit(out, vector.Epsilon))
	assert.InDelta(t, 1/math.Sqrt(3), out[0], 1e-6)
}

func TestAdaptiveRenormalizes(t *testing.T) {
	p := Policy{Strategy: Adaptive, ContentType: "code", ApplicationType: "navigation"}
	w, err := p.EffectiveWeights()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	assert.Greater(t, w.Structural, 0.5)

	custom := DeltaTable{Content: map[string]Weights{"x": {Structural: -1, Semantic: 0, Pragmatic: 0}}}
	w, err = Policy{Strategy: Adaptive, ContentType: "x", Deltas: &custom}.EffectiveWeights()
	require.NoError(t, err)
	assert.Equal(t, 0.0, w.Structural)
	assert.InDelta(t, 0.5/0.7, w.Semantic, 1e-12)

	w, err = Policy{Strategy: Adaptive, ContentType: "unknown"}.EffectiveWeights()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, w.Structural, 1e-12)
	assert.InDelta(t, 0.5, w.Semantic, 1e-12)
	assert.InDelta(t, 0.2, w.Pragmatic, 1e-12)
}

func TestPreconditions(t *testing.T) {
	_, err := Combine(Input{Vector: []float32{1}, ContentHash: "a"}, Input{Vector: []float32{1}, ContentHash: "b"}, in([]float32{1}), DefaultPolicy())
	assert.ErrorIs(t, err, errs.ErrContentHashMismatch)

	_, err = Combine(in([]float32{1, 0}), in([]float32{1}), in([]float32{1, 0}), DefaultPolicy())
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)

	_, err = Combine(in([]float32{1, 0}), in([]float32{-1, 0}), in([]float32{0, 0}), Policy{Weights: Weights{0.5, 0.5, 0}})
	assert.ErrorIs(t, err, errs.ErrZeroVector)
}
