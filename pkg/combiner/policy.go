// ABOUTME: Combination policies for bolting view vectors together
// ABOUTME: Strategies, weights and the adaptive delta tables

package combiner

import (
	"fmt"
	"math"
	"strings"

	"github.com/nainya/boltindex/pkg/errs"
)

// WeightTolerance is the allowed deviation of a weight sum from 1
const WeightTolerance = 1e-3

// Strategy selects how view vectors are merged
type Strategy int

const (
	WeightedAverage Strategy = iota
	Concatenation
	Adaptive
)

func (s Strategy) String() string {
	switch s {
	case WeightedAverage:
		return "weighted_average"
	case Concatenation:
		return "concatenation"
	case Adaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration name to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "weighted_average", "weighted", "":
		return WeightedAverage, nil
	case "concatenation", "concat":
		return Concatenation, nil
	case "adaptive":
		return Adaptive, nil
	}
	return 0, fmt.Errorf("unknown combination strategy %q", s)
}

// Weights are per-view combination weights
type Weights struct {
	Structural float64 `yaml:"structural" json:"structural"`
	Semantic   float64 `yaml:"semantic" json:"semantic"`
	Pragmatic  float64 `yaml:"pragmatic" json:"pragmatic"`
}

// DefaultWeights are the adaptive base weights
func DefaultWeights() Weights {
	return Weights{Structural: 0.3, Semantic: 0.5, Pragmatic: 0.2}
}

// Sum returns the total weight
func (w Weights) Sum() float64 {
	return w.Structural + w.Semantic + w.Pragmatic
}

// Validate fails with ErrInvalidWeights iff |Σw−1| > WeightTolerance
func (w Weights) Validate() error {
	sum := w.Sum()
	if math.IsNaN(sum) || math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: sum %.6f", errs.ErrInvalidWeights, sum)
	}
	return nil
}

func (w Weights) add(d Weights) Weights {
	return Weights{
		Structural: w.Structural + d.Structural,
		Semantic:   w.Semantic + d.Semantic,
		Pragmatic:  w.Pragmatic + d.Pragmatic,
	}
}

// DeltaTable holds adaptive weight adjustments keyed by content and application type
type DeltaTable struct {
	Content     map[string]Weights `yaml:"content"`
	Application map[string]Weights `yaml:"application"`
}

// DefaultDeltas are tunable defaults; they are heuristics, not load-bearing
func DefaultDeltas() DeltaTable {
	return DeltaTable{
		Content: map[string]Weights{
			"code":      {Structural: 0.2, Semantic: -0.1, Pragmatic: -0.1},
			"reference": {Structural: 0.1, Semantic: 0, Pragmatic: -0.1},
			"narrative": {Structural: -0.1, Semantic: 0.1, Pragmatic: 0},
			"policy":    {Structural: 0, Semantic: -0.05, Pragmatic: 0.05},
		},
		Application: map[string]Weights{
			"search":     {Structural: -0.05, Semantic: 0.1, Pragmatic: -0.05},
			"navigation": {Structural: 0.1, Semantic: -0.1, Pragmatic: 0},
			"qa":         {Structural: -0.1, Semantic: 0.05, Pragmatic: 0.05},
		},
	}
}

// Policy declares how a node's view vectors are combined
type Policy struct {
	Strategy        Strategy
	Weights         Weights
	ContentType     string
	ApplicationType string
	Deltas          *DeltaTable // nil uses DefaultDeltas
}

// DefaultPolicy is weighted average over the base weights
func DefaultPolicy() Policy {
	return Policy{Strategy: WeightedAverage, Weights: DefaultWeights()}
}

// EffectiveWeights resolves the weights a strategy will apply.
// Concatenation has no weights and returns the zero value.
func (p Policy) EffectiveWeights() (Weights, error) {
	switch p.Strategy {
	case WeightedAverage:
		if err := p.Weights.Validate(); err != nil {
			return Weights{}, err
		}
		return p.Weights, nil
	case Concatenation:
		return Weights{}, nil
	case Adaptive:
		return p.adaptive(), nil
	}
	return Weights{}, fmt.Errorf("unknown combination strategy %d", int(p.Strategy))
}

func (p Policy) adaptive() Weights {
	deltas := p.Deltas
	if deltas == nil {
		d := DefaultDeltas()
		deltas = &d
	}
	base := DefaultWeights()
	w := base
	if d, ok := deltas.Content[strings.ToLower(p.ContentType)]; ok {
		w = w.add(d)
	}
	if d, ok := deltas.Application[strings.ToLower(p.ApplicationType)]; ok {
		w = w.add(d)
	}
	w.Structural = math.Max(w.Structural, 0)
	w.Semantic = math.Max(w.Semantic, 0)
	w.Pragmatic = math.Max(w.Pragmatic, 0)

	sum := w.Sum()
	if sum == 0 {
		return base
	}
	return Weights{Structural: w.Structural / sum, Semantic: w.Semantic / sum, Pragmatic: w.Pragmatic / sum}
}

// OutputDim is the combined dimension for view vectors of dimension dim
func (p Policy) OutputDim(dim int) int {
	if p.Strategy == Concatenation {
		return 3 * dim
	}
	return dim
}
