// Package market
package market

import (
	"errors"
	"math"
	"time"
)

// Tick is a single bid/ask quote observation with volumes, at millisecond resolution.
type Tick struct {
	Time      time.Time
	Bid       float64
	Ask       float64
	BidVolume float32
	AskVolume float32
}

// Bar is an OHLC summary for a fixed time bucket. Time is the bucket start.
type Bar struct {
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Spread     int
	RealVolume int64
}

// Validate checks if a bar has consistent data
func (b *Bar) Validate() error {
	if b.Time.IsZero() {
		return errors.New("bar time is zero")
	}
	if b.High < b.Low {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open < b.Low || b.Open > b.High {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return errors.New("bar close price must be between high and low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume cannot be negative")
	}
	return nil
}

// Merge folds another bar of the same bucket into b: open stays first,
// high/low extend, close is the latest, volumes sum, spread is the max.
func (b *Bar) Merge(other Bar) {
	b.High = math.Max(b.High, other.High)
	b.Low = math.Min(b.Low, other.Low)
	b.Close = other.Close
	b.Volume += other.Volume
	b.RealVolume += other.RealVolume
	if other.Spread > b.Spread {
		b.Spread = other.Spread
	}
}

// RoundPrice rounds a price to the given number of decimal digits.
func RoundPrice(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

// Scale returns the scaled-integer multiplier for an instrument's digit count.
func Scale(digits int) float64 {
	return math.Pow(10, float64(digits))
}
