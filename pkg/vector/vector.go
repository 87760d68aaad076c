// ABOUTME: Dense float32 vector math used across views, combiner and hierarchy
// ABOUTME: Normalization, cosine similarity, padding and weighted accumulation

package vector

import (
	"math"
	"slices"
)

// Epsilon is the tolerance for unit-norm checks on generated vectors
const Epsilon = 1e-6

// Norm returns the L2 norm of v, accumulated in float64
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of a and b; the caller guarantees equal length
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// NormalizeInPlace scales v to unit L2 norm. Returns false for a zero vector.
func NormalizeInPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	inv := 1 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// Normalize returns a unit-norm copy of v. Returns false for a zero vector.
func Normalize(v []float32) ([]float32, bool) {
	out := slices.Clone(v)
	if !NormalizeInPlace(out) {
		return nil, false
	}
	return out, true
}

// Cosine returns the cosine similarity of a and b.
// Mismatched lengths and zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// CosineDistance returns 1 - Cosine(a, b)
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// IsUnit reports whether ‖v‖ is within eps of 1
func IsUnit(v []float32, eps float64) bool {
	return math.Abs(Norm(v)-1) <= eps
}

// PadOrTruncate returns v resized to dim, zero padded when short
func PadOrTruncate(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// Equal reports bit-for-bit equality
func Equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// Accumulator sums weighted vectors in float64 in a fixed order
type Accumulator struct {
	sum []float64
}

// NewAccumulator creates an accumulator of the given dimension
func NewAccumulator(dim int) *Accumulator {
	return &Accumulator{sum: make([]float64, dim)}
}

// Add accumulates w·v. Vectors of the wrong dimension are rejected.
func (a *Accumulator) Add(v []float32, w float64) bool {
	if len(v) != len(a.sum) {
		return false
	}
	for i, x := range v {
		a.sum[i] += float64(x) * w
	}
	return true
}

// Unit returns the normalized sum. Returns false when the sum is zero.
func (a *Accumulator) Unit() ([]float32, bool) {
	var norm float64
	for _, x := range a.sum {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, false
	}
	out := make([]float32, len(a.sum))
	for i, x := range a.sum {
		out[i] = float32(x / norm)
	}
	return out, true
}
