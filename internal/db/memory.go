package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukafetch/dukafetch/internal/market"
)

// Memory is an in-memory Storage used in tests.
type Memory struct {
	mu   sync.RWMutex
	bars map[string][]market.Bar // instrument|timeframe -> bars
}

func NewMemory() *Memory {
	return &Memory{bars: make(map[string][]market.Bar)}
}

func memoryKey(instrument, timeframe string) string {
	return instrument + "|" + timeframe
}

func (m *Memory) SaveBars(_ context.Context, instrument, timeframe string, bars []market.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(instrument, timeframe)
	existing := m.bars[key]
	for _, bar := range bars {
		replaced := false
		for i := range existing {
			if existing[i].Time.Equal(bar.Time) {
				existing[i] = bar
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, bar)
		}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Time.Before(existing[j].Time)
	})
	m.bars[key] = existing
	return nil
}

func (m *Memory) GetBars(_ context.Context, instrument, timeframe string, start, end time.Time) ([]market.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []market.Bar
	for _, bar := range m.bars[memoryKey(instrument, timeframe)] {
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
