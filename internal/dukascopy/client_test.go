package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/dukafetch/dukafetch/internal/aggregate"
	"github.com/dukafetch/dukafetch/internal/export"
	"github.com/dukafetch/dukafetch/internal/pool"
)

type tickRecord struct {
	ms     int32
	bid    int32
	ask    int32
	bidVol float32
	askVol float32
}

type barRecord struct {
	sec   int32
	open  int32
	high  int32
	low   int32
	close int32
	vol   float32
}

func encodeTickArchive(t *testing.T, records []tickRecord) []byte {
	t.Helper()
	var raw bytes.Buffer
	for _, r := range records {
		binary.Write(&raw, binary.BigEndian, r.ms)
		binary.Write(&raw, binary.BigEndian, r.bid)
		binary.Write(&raw, binary.BigEndian, r.ask)
		binary.Write(&raw, binary.BigEndian, math.Float32bits(r.bidVol))
		binary.Write(&raw, binary.BigEndian, math.Float32bits(r.askVol))
	}
	return compress(t, raw.Bytes())
}

func encodeBarArchive(t *testing.T, records []barRecord) []byte {
	t.Helper()
	var raw bytes.Buffer
	for _, r := range records {
		binary.Write(&raw, binary.BigEndian, r.sec)
		binary.Write(&raw, binary.BigEndian, r.open)
		binary.Write(&raw, binary.BigEndian, r.high)
		binary.Write(&raw, binary.BigEndian, r.low)
		binary.Write(&raw, binary.BigEndian, r.close)
		binary.Write(&raw, binary.BigEndian, math.Float32bits(r.vol))
	}
	return compress(t, raw.Bytes())
}

func compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{Size: int64(len(raw))}.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestClient(t *testing.T, files map[string][]byte, workers int) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := files[r.URL.Path]; ok {
			w.Write(body)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	p := pool.New(t.TempDir(), pool.Config{
		BaseURLs:   []string{srv.URL},
		RetryCount: 1,
		Timeout:    5 * time.Second,
	})
	return NewClient(p, "EURUSD", 5, workers)
}

func newTestAggregator(start, end time.Time) *aggregate.Aggregator {
	return aggregate.New(aggregate.Options{
		Digits:               5,
		Start:                start,
		End:                  end,
		SkipFallbackIfTicked: true,
	})
}

func TestDownloadTicks(t *testing.T) {
	hour := time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC)
	files := map[string][]byte{
		// January lives under the zero-based month directory.
		"/EURUSD/2025/00/02/04h_ticks.bi5": encodeTickArchive(t, []tickRecord{
			{ms: 1000, bid: 110000, ask: 110020, bidVol: 1, askVol: 1},
			{ms: 2000, bid: 110050, ask: 110070, bidVol: 1, askVol: 1},
			{ms: 61000, bid: 110010, ask: 110030, bidVol: 1, askVol: 1},
		}),
	}
	client := newTestClient(t, files, 2)

	agg := newTestAggregator(hour, hour.Add(time.Hour))
	sum := export.NewSummary()
	err := client.DownloadTicks(context.Background(), hour, hour.Add(30*time.Minute), false, agg, sum)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.HoursProcessed)
	assert.Equal(t, int64(0), sum.MissingHours)
	assert.Equal(t, int64(3), sum.Ticks)

	bars := agg.GetBars()
	require.Len(t, bars, 2)
	assert.Equal(t, hour, bars[0].Time)
	assert.InDelta(t, 1.10000, bars[0].Open, 1e-9)
	assert.InDelta(t, 1.10050, bars[0].Close, 1e-9)
	assert.Equal(t, int64(2), bars[0].Volume)
	assert.Equal(t, hour.Add(time.Minute), bars[1].Time)
	assert.Equal(t, int64(1), bars[1].Volume)
}

func TestDownloadTicksFallsBackToDayBars(t *testing.T) {
	hour := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	files := map[string][]byte{
		// No tick archives at all; only the daily minute-bar file exists.
		"/EURUSD/2025/02/10/BID_candles_min_1.bi5": encodeBarArchive(t, []barRecord{
			{sec: 0, open: 110000, high: 110100, low: 109900, close: 110050, vol: 5},
			{sec: 60, open: 110050, high: 110200, low: 110000, close: 110150, vol: 7},
		}),
	}
	client := newTestClient(t, files, 2)

	agg := newTestAggregator(hour, hour.Add(2*time.Hour))
	sum := export.NewSummary()
	err := client.DownloadTicks(context.Background(), hour, hour.Add(time.Hour), true, agg, sum)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.HoursProcessed)
	assert.Equal(t, int64(2), sum.MissingHours)
	assert.Equal(t, int64(0), sum.Ticks)
	// Both hours fall back to the same day but the day merges only once.
	assert.Equal(t, int64(2), sum.FallbackBars)

	bars := agg.GetBars()
	require.Len(t, bars, 2)
	assert.InDelta(t, 1.10000, bars[0].Open, 1e-9)
	assert.Equal(t, int64(5), bars[0].Volume)
	assert.InDelta(t, 1.10150, bars[1].Close, 1e-9)
}

func TestDownloadTicksCorruptArchive(t *testing.T) {
	hour := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	files := map[string][]byte{
		"/EURUSD/2025/02/10/00h_ticks.bi5": []byte("definitely not lzma"),
	}
	client := newTestClient(t, files, 1)

	agg := newTestAggregator(hour, hour.Add(time.Hour))
	sum := export.NewSummary()
	err := client.DownloadTicks(context.Background(), hour, hour, false, agg, sum)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.HoursProcessed)
	assert.Equal(t, int64(1), sum.MissingHours)
	assert.Empty(t, agg.GetBars())
}

func TestDownloadM1Bars(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	files := map[string][]byte{
		"/EURUSD/2025/02/10/BID_candles_min_1.bi5": encodeBarArchive(t, []barRecord{
			{sec: 0, open: 110000, high: 110000, low: 110000, close: 110000, vol: 1},
		}),
		// Next day has no archive.
	}
	client := newTestClient(t, files, 2)

	end := day.Add(48*time.Hour - time.Second)
	agg := newTestAggregator(day, end)
	sum := export.NewSummary()
	err := client.DownloadM1Bars(context.Background(), day, end, agg, sum)
	require.NoError(t, err)

	assert.Equal(t, int64(48), sum.HoursProcessed)
	assert.Equal(t, int64(24), sum.MissingHours)
	require.Len(t, agg.GetBars(), 1)
}

func TestDownloadTicksCancelled(t *testing.T) {
	hour := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	client := newTestClient(t, nil, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := newTestAggregator(hour, hour.Add(time.Hour))
	err := client.DownloadTicks(ctx, hour, hour.Add(time.Hour), false, agg, export.NewSummary())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnumerateHours(t *testing.T) {
	start := time.Date(2025, 1, 6, 10, 15, 0, 0, time.UTC)
	end := time.Date(2025, 1, 6, 13, 0, 0, 0, time.UTC)

	hours := enumerateHours(start, end)
	require.Len(t, hours, 4)
	assert.Equal(t, time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC), hours[0])
	assert.Equal(t, time.Date(2025, 1, 6, 13, 0, 0, 0, time.UTC), hours[3])
}

func TestEnumerateDays(t *testing.T) {
	start := time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 2, 1, 0, 0, 0, time.UTC)

	days := enumerateDays(start, end)
	require.Len(t, days, 4)
	assert.Equal(t, time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), days[3])
}

func TestTickFileName(t *testing.T) {
	assert.Equal(t, "04h_ticks.bi5", tickFileName(time.Date(2025, 1, 2, 4, 30, 0, 0, time.UTC)))
	assert.Equal(t, "23h_ticks.bi5", tickFileName(time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC)))
}

func TestDefaultWorkers(t *testing.T) {
	n := DefaultWorkers()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 8)
}
