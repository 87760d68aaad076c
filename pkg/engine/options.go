package engine

import (
	"fmt"
	"strings"

	"github.com/nainya/boltindex/pkg/change"
	"github.com/nainya/boltindex/pkg/combiner"
	"github.com/nainya/boltindex/pkg/hierarchy"
	"github.com/nainya/boltindex/pkg/impact"
	"github.com/nainya/boltindex/pkg/update"
	"github.com/nainya/boltindex/pkg/validate"
)

// ConflictMode decides what a second update of a busy document does
type ConflictMode int

const (
	// Queue waits for the running update to finish
	Queue ConflictMode = iota
	// Reject fails fast with ErrUpdateInProgress
	Reject
)

func (m ConflictMode) String() string {
	if m == Reject {
		return "reject"
	}
	return "queue"
}

// ParseConflictMode maps queue or reject to a ConflictMode
func ParseConflictMode(s string) (ConflictMode, error) {
	switch strings.ToLower(s) {
	case "", "queue":
		return Queue, nil
	case "reject":
		return Reject, nil
	}
	return Queue, fmt.Errorf("unknown conflict mode %q", s)
}

// Options tunes the pipeline. Zero values take the package defaults.
type Options struct {
	Dimension         int
	Policy            combiner.Policy
	SiblingThreshold  float64
	CascadeThreshold  float64
	MaxHops           int
	MaterialThreshold float64
	PairThreshold     float64
	MinMentions       int
	RegressionFloor   float64
	UnitEpsilon       float64
	Workers           int
	ConflictMode      ConflictMode
	// UseJudge measures paragraph drift with semantic views instead of token overlap
	UseJudge bool
}

// DefaultOptions returns the defaults for dimension dim
func DefaultOptions(dim int) Options {
	return Options{
		Dimension:         dim,
		Policy:            combiner.DefaultPolicy(),
		SiblingThreshold:  hierarchy.DefaultSiblingThreshold,
		CascadeThreshold:  impact.DefaultCascadeThreshold,
		MaxHops:           impact.DefaultMaxHops,
		MaterialThreshold: change.DefaultMaterialThreshold,
		PairThreshold:     change.DefaultPairThreshold,
		MinMentions:       hierarchy.DefaultMinMentions,
		RegressionFloor:   validate.DefaultRegressionFloor,
		UnitEpsilon:       validate.DefaultUnitEpsilon,
		Workers:           update.DefaultWorkers,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.Dimension)
	if o.Policy.Weights == (combiner.Weights{}) && o.Policy.Strategy == combiner.WeightedAverage {
		o.Policy = d.Policy
	}
	if o.SiblingThreshold <= 0 {
		o.SiblingThreshold = d.SiblingThreshold
	}
	if o.CascadeThreshold <= 0 {
		o.CascadeThreshold = d.CascadeThreshold
	}
	if o.MaxHops <= 0 {
		o.MaxHops = d.MaxHops
	}
	if o.MaterialThreshold <= 0 {
		o.MaterialThreshold = d.MaterialThreshold
	}
	if o.PairThreshold <= 0 {
		o.PairThreshold = d.PairThreshold
	}
	if o.MinMentions <= 0 {
		o.MinMentions = d.MinMentions
	}
	if o.RegressionFloor <= 0 {
		o.RegressionFloor = d.RegressionFloor
	}
	if o.UnitEpsilon <= 0 {
		o.UnitEpsilon = d.UnitEpsilon
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}

// combinedDimension is the length of every combined vector
func (o Options) combinedDimension() int {
	if o.Policy.Strategy == combiner.Concatenation {
		return 3 * o.Dimension
	}
	return o.Dimension
}
