// Package dukascopy drives the fetch → decode → aggregate pipeline against the
// Dukascopy archive layout: hourly tick files and daily minute-bar files under
// {instrument}/{year}/{month}/{day}/.
package dukascopy

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dukafetch/dukafetch/internal/aggregate"
	"github.com/dukafetch/dukafetch/internal/codec"
	"github.com/dukafetch/dukafetch/internal/export"
	"github.com/dukafetch/dukafetch/internal/pool"
)

const m1DayFileName = "BID_candles_min_1.bi5"

func tickFileName(hour time.Time) string {
	return fmt.Sprintf("%02dh_ticks.bi5", hour.UTC().Hour())
}

// DefaultWorkers clamps hardware parallelism into the pool's sweet spot.
func DefaultWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// Client downloads one instrument's archives through a data pool and feeds an
// aggregator. Safe for concurrent use by its own worker pool only.
type Client struct {
	pool       *pool.Pool
	instrument string
	digits     int
	workers    int

	fallbackMu   sync.Mutex
	fallbackOnce map[int64]*sync.Once
}

// NewClient creates a client for one instrument. workers <= 0 selects
// DefaultWorkers.
func NewClient(p *pool.Pool, instrument string, digits, workers int) *Client {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Client{
		pool:         p,
		instrument:   instrument,
		digits:       digits,
		workers:      workers,
		fallbackOnce: make(map[int64]*sync.Once),
	}
}

type unitResult struct {
	hours        int64
	missing      int64
	ticks        int64
	fallbackBars int64
}

// DownloadTicks processes every hour of [start,end] through the worker pool:
// fetch the hourly tick archive, decode, and feed the aggregator. Missing or
// failed hours fall back to the day's minute bars when fallbackToM1 is set.
// Returns an error only on cancellation.
func (c *Client) DownloadTicks(ctx context.Context, start, end time.Time, fallbackToM1 bool, agg *aggregate.Aggregator, sum *export.Summary) error {
	units := enumerateHours(start, end)
	return c.runUnits(ctx, units, sum, func(ctx context.Context, hour time.Time) unitResult {
		return c.processTickHour(ctx, hour, fallbackToM1, agg)
	})
}

// DownloadM1Bars processes every day of [start,end]: fetch the daily minute-bar
// archive, decode, and feed the aggregator. A day with no bars counts all of
// its in-range hours as missing. Returns an error only on cancellation.
func (c *Client) DownloadM1Bars(ctx context.Context, start, end time.Time, agg *aggregate.Aggregator, sum *export.Summary) error {
	units := enumerateDays(start, end)
	return c.runUnits(ctx, units, sum, func(ctx context.Context, day time.Time) unitResult {
		hourCount := countHoursInRange(day, day.Add(24*time.Hour-time.Nanosecond), start, end)
		bars := c.downloadDayBars(ctx, day, agg)
		res := unitResult{hours: hourCount}
		if bars == 0 {
			res.missing = hourCount
		}
		return res
	})
}

// runUnits fans calendar units out to the bounded worker pool and folds the
// per-unit results into the summary through a single collector.
func (c *Client) runUnits(ctx context.Context, units []time.Time, sum *export.Summary, process func(context.Context, time.Time) unitResult) error {
	if len(units) == 0 {
		return nil
	}

	pending := make(chan time.Time, len(units))
	for _, u := range units {
		pending <- u
	}
	close(pending)

	results := make(chan unitResult, len(units))
	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for r := range results {
			sum.HoursProcessed += r.hours
			sum.MissingHours += r.missing
			sum.Ticks += r.ticks
			sum.FallbackBars += r.fallbackBars
		}
	}()

	workers := c.workers
	if workers > len(units) {
		workers = len(units)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case unit, ok := <-pending:
					if !ok {
						return
					}
					results <- process(ctx, unit)
				}
			}
		}()
	}
	wg.Wait()
	close(results)
	collectorWg.Wait()

	return ctx.Err()
}

func (c *Client) processTickHour(ctx context.Context, hour time.Time, fallbackToM1 bool, agg *aggregate.Aggregator) unitResult {
	res := unitResult{hours: 1}

	data, err := c.pool.Fetch(ctx, pool.Request{
		Instrument: c.instrument,
		Time:       hour,
		FileName:   tickFileName(hour),
	})
	if err == nil {
		raw, derr := codec.Decompress(data)
		if derr == nil {
			ticks := codec.DecodeTicks(raw, hour, c.digits)
			for _, tick := range ticks {
				agg.AddTick(tick)
			}
			res.ticks = int64(len(ticks))
			return res
		}
		log.WithField("hour", hour.Format("2006-01-02 15:00")).WithError(derr).Error("corrupt tick archive")
		err = derr
	}

	if ctx.Err() != nil {
		return res
	}

	res.missing = 1
	if errors.Is(err, pool.ErrNotFound) {
		log.WithFields(log.Fields{"instrument": c.instrument, "hour": hour.Format("2006-01-02 15:00")}).Debug("missing tick archive")
	} else if !errors.Is(err, codec.ErrInvalidData) {
		log.WithField("hour", hour.Format("2006-01-02 15:00")).WithError(err).Warn("tick archive download failed")
	}

	if fallbackToM1 {
		res.fallbackBars = c.fallbackDay(ctx, hour, agg)
	}
	return res
}

// fallbackDay merges the day's minute bars at most once per day, no matter how
// many of the day's hours fall back concurrently. Only the call that performs
// the merge reports the accepted count, so the summary counts each day once.
func (c *Client) fallbackDay(ctx context.Context, hour time.Time, agg *aggregate.Aggregator) int64 {
	t := hour.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	key := day.Unix()

	c.fallbackMu.Lock()
	once, ok := c.fallbackOnce[key]
	if !ok {
		once = new(sync.Once)
		c.fallbackOnce[key] = once
	}
	c.fallbackMu.Unlock()

	var merged int64
	once.Do(func() {
		merged = c.downloadDayBars(ctx, day, agg)
	})
	return merged
}

// downloadDayBars fetches and decodes one day's minute-bar archive and merges
// every bar that the aggregator accepts, returning the accepted count.
func (c *Client) downloadDayBars(ctx context.Context, day time.Time, agg *aggregate.Aggregator) int64 {
	data, err := c.pool.Fetch(ctx, pool.Request{
		Instrument: c.instrument,
		Time:       day,
		FileName:   m1DayFileName,
	})
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			log.WithFields(log.Fields{"instrument": c.instrument, "day": day.Format("2006-01-02")}).Debug("missing minute-bar archive")
		} else if ctx.Err() == nil {
			log.WithField("day", day.Format("2006-01-02")).WithError(err).Warn("minute-bar archive download failed")
		}
		return 0
	}

	raw, err := codec.Decompress(data)
	if err != nil {
		log.WithField("day", day.Format("2006-01-02")).WithError(err).Error("corrupt minute-bar archive")
		return 0
	}

	var accepted int64
	for _, bar := range codec.DecodeBars(raw, day, c.digits) {
		if agg.TryAddFallbackBar(bar, false) {
			accepted++
		}
	}
	return accepted
}

func enumerateHours(start, end time.Time) []time.Time {
	s := start.UTC()
	current := time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), 0, 0, 0, time.UTC)
	var hours []time.Time
	for !current.After(end) {
		hours = append(hours, current)
		current = current.Add(time.Hour)
	}
	return hours
}

func enumerateDays(start, end time.Time) []time.Time {
	s := start.UTC()
	e := end.UTC()
	current := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for !current.After(endDay) {
		days = append(days, current)
		current = current.AddDate(0, 0, 1)
	}
	return days
}

func countHoursInRange(dayStart, dayEnd, rangeStart, rangeEnd time.Time) int64 {
	effectiveStart := dayStart
	if rangeStart.After(effectiveStart) {
		effectiveStart = rangeStart
	}
	effectiveEnd := dayEnd
	if rangeEnd.Before(effectiveEnd) {
		effectiveEnd = rangeEnd
	}
	if effectiveEnd.Before(effectiveStart) {
		return 0
	}
	return int64(len(enumerateHours(effectiveStart, effectiveEnd)))
}
