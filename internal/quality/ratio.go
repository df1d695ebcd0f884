package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrRatioRange is returned when a value outside [0,1] is used as a Ratio.
var ErrRatioRange = errors.New("ratio must be within [0,1]")

// Ratio is a score in [0,1]. All metric arithmetic is done on ratios;
// percentages exist only for display, through Percent.
type Ratio float64

// NewRatio validates v as a ratio.
func NewRatio(v float64) (Ratio, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: %v", ErrRatioRange, v)
	}
	return Ratio(v), nil
}

// ClampRatio forces v into [0,1]. NaN becomes 0.
func ClampRatio(v float64) Ratio {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return Ratio(v)
	}
}

// fraction returns num/den as a ratio, 0 when den is 0.
func fraction(num, den int) Ratio {
	if den == 0 {
		return 0
	}
	return ClampRatio(float64(num) / float64(den))
}

func (r Ratio) Float() float64 { return float64(r) }

// Percent returns the display form of r.
func (r Ratio) Percent() Percent { return Percent{ratio: r} }

// Percent is the presentation form of a Ratio. It keeps the ratio it was
// made from so converting back is exact.
type Percent struct {
	ratio Ratio
}

// Value is the ratio scaled by 100.
func (p Percent) Value() float64 { return float64(p.ratio) * 100 }

// Ratio returns the ratio the percentage was derived from.
func (p Percent) Ratio() Ratio { return p.ratio }

func (p Percent) String() string { return fmt.Sprintf("%.1f%%", p.Value()) }

func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value())
}

// RatioFromPercent converts an externally supplied percentage (for
// example a contract threshold of 95) into a ratio.
func RatioFromPercent(v float64) (Ratio, error) {
	return NewRatio(v / 100)
}
