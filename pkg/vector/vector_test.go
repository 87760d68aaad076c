package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	v, ok := Normalize([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-7)
	assert.InDelta(t, 0.8, v[1], 1e-7)
	assert.True(t, IsUnit(v, Epsilon))

	_, ok = Normalize([]float32{0, 0, 0})
	assert.False(t, ok)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-12)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-12)
}

func TestPadOrTruncate(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 0, 0}, PadOrTruncate([]float32{1, 2}, 4))
	assert.Equal(t, []float32{1, 2}, PadOrTruncate([]float32{1, 2, 3}, 2))
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(3)
	require.True(t, acc.Add([]float32{1, 0, 0}, 0.3))
	require.True(t, acc.Add([]float32{0, 1, 0}, 0.5))
	require.True(t, acc.Add([]float32{0, 0, 1}, 0.2))
	assert.False(t, acc.Add([]float32{1}, 1))

	unit, ok := acc.Unit()
	require.True(t, ok)
	assert.True(t, IsUnit(unit, Epsilon))
	assert.InDelta(t, 0.3/math.Sqrt(0.38), unit[0], 1e-6)
	assert.InDelta(t, 0.5/math.Sqrt(0.38), unit[1], 1e-6)

	_, ok = NewAccumulator(2).Unit()
	assert.False(t, ok)
}

func TestEqualIsBitwise(t *testing.T) {
	assert.True(t, Equal([]float32{1, 2}, []float32{1, 2}))
	assert.False(t, Equal([]float32{1, 2}, []float32{1, 2.0000002}))
	assert.False(t, Equal([]float32{1}, []float32{1, 0}))
}
