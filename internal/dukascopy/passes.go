package dukascopy

import (
	"math"

	"github.com/dukafetch/dukafetch/internal/aggregate"
	"github.com/dukafetch/dukafetch/internal/market"
)

// RepairGaps offers every independently-fetched bar to the primary aggregator
// in only-if-missing mode, so genuinely empty minutes get filled while minutes
// that already hold data stay untouched.
func RepairGaps(primary *aggregate.Aggregator, repairBars []market.Bar) (added, skipped int64) {
	for _, bar := range repairBars {
		if primary.TryAddFallbackBar(bar, true) {
			added++
		} else {
			skipped++
		}
	}
	return added, skipped
}

// ValidateBars compares an independently re-fetched bar series against the
// primary one. A bar mismatches when its minute is absent from the primary
// series or any of O/H/L/C differs by more than the tolerance.
func ValidateBars(primaryBars, validationBars []market.Bar, tolerance float64) (checked, mismatches int64) {
	byTime := make(map[int64]market.Bar, len(primaryBars))
	for _, bar := range primaryBars {
		byTime[bar.Time.Unix()] = bar
	}

	for _, bar := range validationBars {
		checked++
		base, ok := byTime[bar.Time.Unix()]
		if !ok || !withinTolerance(base, bar, tolerance) {
			mismatches++
		}
	}
	return checked, mismatches
}

func withinTolerance(left, right market.Bar, tolerance float64) bool {
	return math.Abs(left.Open-right.Open) <= tolerance &&
		math.Abs(left.High-right.High) <= tolerance &&
		math.Abs(left.Low-right.Low) <= tolerance &&
		math.Abs(left.Close-right.Close) <= tolerance
}
