package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukafetch/dukafetch/internal/market"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	bars := []market.Bar{
		{Time: day.Add(time.Minute), Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1, Volume: 2},
		{Time: day, Open: 1.0, High: 1.0, Low: 1.0, Close: 1.0, Volume: 1},
	}
	require.NoError(t, store.SaveBars(ctx, "EURUSD", "m1", bars))

	t.Run("Sorted on read", func(t *testing.T) {
		got, err := store.GetBars(ctx, "EURUSD", "m1", day, day.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Time.Before(got[1].Time))
	})

	t.Run("Upsert replaces same minute", func(t *testing.T) {
		update := []market.Bar{{Time: day, Open: 2.0, High: 2.0, Low: 2.0, Close: 2.0, Volume: 9}}
		require.NoError(t, store.SaveBars(ctx, "EURUSD", "m1", update))

		got, err := store.GetBars(ctx, "EURUSD", "m1", day, day.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(9), got[0].Volume)
	})

	t.Run("Range filter", func(t *testing.T) {
		got, err := store.GetBars(ctx, "EURUSD", "m1", day.Add(time.Minute), day.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("Keyed by instrument and timeframe", func(t *testing.T) {
		got, err := store.GetBars(ctx, "EURUSD", "m5", day, day.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = store.GetBars(ctx, "GBPUSD", "m1", day, day.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	assert.NoError(t, store.Close())
}
