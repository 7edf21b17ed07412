// Package resample buckets a one-minute bar series into coarser timeframes.
package resample

import (
	"sort"
	"time"

	"github.com/dukafetch/dukafetch/internal/market"
	"github.com/dukafetch/dukafetch/internal/tfutils"
)

// Resample folds a sorted bar series into the target timeframe's buckets.
// Unsorted input is sorted first since the bucket-merge loop assumes monotonic
// forward progress. Consecutive bars in one bucket merge by the usual rule:
// open first, high max, low min, close last, volumes summed, spread max.
func Resample(bars []market.Bar, tf tfutils.Descriptor) []market.Bar {
	if len(bars) == 0 {
		return bars
	}
	if tf.Kind == tfutils.KindMinutes && tf.Minutes <= 1 {
		return bars
	}

	ordered := bars
	if !isSorted(ordered) {
		ordered = make([]market.Bar, len(bars))
		copy(ordered, bars)
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].Time.Before(ordered[j].Time)
		})
	}

	result := make([]market.Bar, 0, len(ordered))
	var current market.Bar
	var haveCurrent bool
	var currentBucket time.Time

	for _, bar := range ordered {
		bucket := BucketStart(bar.Time, tf)
		if !haveCurrent || !bucket.Equal(currentBucket) {
			if haveCurrent {
				result = append(result, current)
			}
			currentBucket = bucket
			current = bar
			current.Time = bucket
			haveCurrent = true
			continue
		}
		current.Merge(bar)
	}
	if haveCurrent {
		result = append(result, current)
	}

	return result
}

// BucketStart aligns an instant to the start of its timeframe bucket in the
// instant's own location: fixed-minute buckets to multiples of N from the top
// of the hour, days to local midnight, weeks to the most recent Monday
// midnight, months to the first of the month.
func BucketStart(t time.Time, tf tfutils.Descriptor) time.Time {
	loc := t.Location()
	switch tf.Kind {
	case tfutils.KindDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case tfutils.KindWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		back := (int(day.Weekday()) + 6) % 7 // days since Monday
		return day.AddDate(0, 0, -back)
	case tfutils.KindMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		minutesIntoHour := t.Minute()
		aligned := (minutesIntoHour / tf.Minutes) * tf.Minutes
		if tf.Minutes >= 60 {
			// Hour-multiple buckets align on hours from midnight.
			hour := (t.Hour() / (tf.Minutes / 60)) * (tf.Minutes / 60)
			return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), aligned, 0, 0, loc)
	}
}

func isSorted(bars []market.Bar) bool {
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Time.After(bars[i].Time) {
			return false
		}
	}
	return true
}
