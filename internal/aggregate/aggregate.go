// Package aggregate folds ticks and fallback minute bars into a consistent
// one-minute bar series. All mutating operations are serialized behind one
// mutex so concurrent download workers can feed a single aggregator.
package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dukafetch/dukafetch/internal/market"
	"github.com/dukafetch/dukafetch/internal/session"
)

// Options configures one aggregation run.
type Options struct {
	Digits               int
	UTCOffset            time.Duration
	Start                time.Time
	End                  time.Time
	FilterWeekends       bool
	DeduplicateTicks     bool
	SkipFallbackIfTicked bool
	Calendar             *session.Calendar
}

// fingerprint identifies a tick exactly: millisecond timestamp, scaled-rounded
// prices and the raw bit patterns of both volumes.
type fingerprint struct {
	unixMilli int64
	bid       int64
	ask       int64
	bidVol    uint32
	askVol    uint32
}

type minuteBuilder struct {
	time       time.Time
	hasValue   bool
	open       float64
	high       float64
	low        float64
	close      float64
	tickVolume int64
	realVolume int64
	spread     int
}

func (b *minuteBuilder) addTick(tick market.Tick, scale float64) {
	price := tick.Bid
	if !b.hasValue {
		b.open = price
		b.high = price
		b.low = price
		b.hasValue = true
	} else {
		b.high = math.Max(b.high, price)
		b.low = math.Min(b.low, price)
	}
	b.close = price

	b.tickVolume++
	b.realVolume += int64(math.Round(float64(tick.BidVolume) + float64(tick.AskVolume)))
	b.spread = int(math.Round((tick.Ask - tick.Bid) * scale))
}

func (b *minuteBuilder) mergeBar(bar market.Bar) {
	if !b.hasValue {
		b.open = bar.Open
		b.high = bar.High
		b.low = bar.Low
		b.hasValue = true
	} else {
		b.high = math.Max(b.high, bar.High)
		b.low = math.Min(b.low, bar.Low)
	}
	b.close = bar.Close

	b.tickVolume += bar.Volume
	b.realVolume += bar.RealVolume
	if bar.Spread > b.spread {
		b.spread = bar.Spread
	}
}

func (b *minuteBuilder) build(digits int) market.Bar {
	return market.Bar{
		Time:       b.time,
		Open:       market.RoundPrice(b.open, digits),
		High:       market.RoundPrice(b.high, digits),
		Low:        market.RoundPrice(b.low, digits),
		Close:      market.RoundPrice(b.close, digits),
		Volume:     b.tickVolume,
		Spread:     b.spread,
		RealVolume: b.realVolume,
	}
}

// Aggregator is the per-run bar aggregation state machine. Tick data dominates
// fallback-bar data for any minute regardless of insertion order.
type Aggregator struct {
	mu sync.Mutex

	opts  Options
	scale float64
	loc   *time.Location
	start time.Time
	end   time.Time

	bars            map[int64]*minuteBuilder
	tickMinutes     map[int64]struct{}
	fallbackMinutes map[int64]struct{}
	seen            map[int64]map[fingerprint]struct{}

	duplicateTicksDropped int64
	fallbackBarsSkipped   int64
}

// New creates an aggregator for the [start,end] window in the configured
// display offset.
func New(opts Options) *Aggregator {
	loc := time.FixedZone("display", int(opts.UTCOffset/time.Second))
	return &Aggregator{
		opts:            opts,
		scale:           market.Scale(opts.Digits),
		loc:             loc,
		start:           opts.Start.In(loc),
		end:             opts.End.In(loc),
		bars:            make(map[int64]*minuteBuilder),
		tickMinutes:     make(map[int64]struct{}),
		fallbackMinutes: make(map[int64]struct{}),
		seen:            make(map[int64]map[fingerprint]struct{}),
	}
}

// AddTick folds one tick into its minute accumulator. Out-of-range, weekend
// (when filtered), closed-session and duplicate ticks are dropped.
func (a *Aggregator) AddTick(tick market.Tick) {
	displayTime := tick.Time.In(a.loc)
	if !a.accepts(displayTime, tick.Time) {
		return
	}

	key := a.minuteKey(displayTime)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.DeduplicateTicks {
		fp := fingerprint{
			unixMilli: tick.Time.UnixMilli(),
			bid:       int64(math.Round(tick.Bid * a.scale)),
			ask:       int64(math.Round(tick.Ask * a.scale)),
			bidVol:    math.Float32bits(tick.BidVolume),
			askVol:    math.Float32bits(tick.AskVolume),
		}
		minuteSeen := a.seen[key]
		if minuteSeen == nil {
			minuteSeen = make(map[fingerprint]struct{})
			a.seen[key] = minuteSeen
		}
		if _, dup := minuteSeen[fp]; dup {
			a.duplicateTicksDropped++
			return
		}
		minuteSeen[fp] = struct{}{}
	}

	// Ticks are authoritative: the first tick for a minute evicts any
	// fallback-only accumulator built for it earlier.
	if a.opts.SkipFallbackIfTicked {
		if _, fallbackOnly := a.fallbackMinutes[key]; fallbackOnly {
			delete(a.bars, key)
			delete(a.fallbackMinutes, key)
		}
	}
	a.tickMinutes[key] = struct{}{}

	a.builder(key, displayTime).addTick(tick, a.scale)
}

// AddBar folds one fallback minute bar, honoring tick dominance.
func (a *Aggregator) AddBar(bar market.Bar) {
	a.TryAddFallbackBar(bar, false)
}

// TryAddFallbackBar folds a fallback bar and reports whether it was applied.
// With onlyIfMissing it only fills minutes that hold no data at all, which is
// what the gap-repair pass relies on.
func (a *Aggregator) TryAddFallbackBar(bar market.Bar, onlyIfMissing bool) bool {
	displayTime := bar.Time.In(a.loc)
	if !a.accepts(displayTime, bar.Time) {
		return false
	}

	key := a.minuteKey(displayTime)

	a.mu.Lock()
	defer a.mu.Unlock()

	if onlyIfMissing {
		if _, exists := a.bars[key]; exists {
			return false
		}
	}

	if a.opts.SkipFallbackIfTicked {
		if _, ticked := a.tickMinutes[key]; ticked {
			a.fallbackBarsSkipped++
			return false
		}
	}

	a.builder(key, displayTime).mergeBar(bar)
	if _, ticked := a.tickMinutes[key]; !ticked {
		a.fallbackMinutes[key] = struct{}{}
	}
	return true
}

// GetBars materializes all accumulated minutes as rounded bars, sorted
// ascending by time. Call only after all producers have finished.
func (a *Aggregator) GetBars() []market.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	bars := make([]market.Bar, 0, len(a.bars))
	for _, b := range a.bars {
		bar := b.build(a.opts.Digits)
		if bar.Time.Before(a.start) || bar.Time.After(a.end) {
			continue
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})
	return bars
}

// DuplicateTicksDropped returns how many ticks were rejected as duplicates.
func (a *Aggregator) DuplicateTicksDropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duplicateTicksDropped
}

// FallbackBarsSkipped returns how many fallback bars lost to tick data.
func (a *Aggregator) FallbackBarsSkipped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallbackBarsSkipped
}

func (a *Aggregator) accepts(displayTime, instant time.Time) bool {
	if displayTime.Before(a.start) || displayTime.After(a.end) {
		return false
	}
	if a.opts.FilterWeekends {
		switch displayTime.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	if !a.opts.Calendar.IsOpen(instant) {
		return false
	}
	return true
}

// minuteKey is the integer minute index of the display-offset minute bucket.
func (a *Aggregator) minuteKey(displayTime time.Time) int64 {
	_, offset := displayTime.Zone()
	return (displayTime.Unix() + int64(offset)) / 60
}

func (a *Aggregator) builder(key int64, displayTime time.Time) *minuteBuilder {
	b, ok := a.bars[key]
	if !ok {
		minute := time.Date(
			displayTime.Year(), displayTime.Month(), displayTime.Day(),
			displayTime.Hour(), displayTime.Minute(), 0, 0, a.loc)
		b = &minuteBuilder{time: minute}
		a.bars[key] = b
	}
	return b
}
