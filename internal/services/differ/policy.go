package differ

import (
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

// Policy is the dual pass/fail gate applied on top of a Result.
// Both gates are inclusive: a value equal to its cap passes.
type Policy struct {
	PixelThreshold float64 // Per-pixel similarity threshold handed to Compare
	MaxDiffPixels  int     // Absolute cap on differing pixels
	MaxDiffRatio   float64 // Relative cap on DifferencePercentage
}

// Verdict records the outcome of each gate.
type Verdict struct {
	Pass      bool
	PixelGate bool
	RatioGate bool
}

// NewPolicy builds the default policy from configuration
func NewPolicy(config common.ThresholdConfig) Policy {
	return Policy{
		PixelThreshold: config.Pixel,
		MaxDiffPixels:  config.MaxDiffPixels,
		MaxDiffRatio:   config.MaxDiffRatio,
	}
}

// WithOverride returns a copy of p with any per-test overrides applied
func (p Policy) WithOverride(o *models.ThresholdOverride) Policy {
	if o == nil {
		return p
	}
	if o.Pixel != nil {
		p.PixelThreshold = *o.Pixel
	}
	if o.MaxDiffPixels != nil {
		p.MaxDiffPixels = *o.MaxDiffPixels
	}
	if o.MaxDiffRatio != nil {
		p.MaxDiffRatio = *o.MaxDiffRatio
	}
	return p
}

// Evaluate applies both gates to a result
func (p Policy) Evaluate(r *Result) Verdict {
	if r == nil {
		return Verdict{}
	}
	v := Verdict{
		PixelGate: r.DifferingPixels <= p.MaxDiffPixels,
		RatioGate: r.DifferencePercentage <= p.MaxDiffRatio,
	}
	v.Pass = v.PixelGate && v.RatioGate
	return v
}
