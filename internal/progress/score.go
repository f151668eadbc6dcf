package progress

import (
	"math"

	"planengine/internal/model"
)

// CompletionRate is current/target as a percentage clamped to [0, 100].
// Percentage indicators never target more than 100.
func CompletionRate(ind model.Indicator) float64 {
	target := ind.TargetValue
	if ind.Kind == model.IndicatorPercentage && target > 100 {
		target = 100
	}
	if target <= 0 {
		if ind.CurrentValue > 0 {
			return 100
		}
		return 0
	}
	rate := ind.CurrentValue / target
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return round2(clamp(rate*100, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
