package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarValidate(t *testing.T) {
	base := Bar{
		Time: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 10,
	}
	assert.NoError(t, base.Validate())

	t.Run("Zero time", func(t *testing.T) {
		b := base
		b.Time = time.Time{}
		assert.Error(t, b.Validate())
	})

	t.Run("High below low", func(t *testing.T) {
		b := base
		b.High, b.Low = b.Low, b.High
		assert.Error(t, b.Validate())
	})

	t.Run("Open outside range", func(t *testing.T) {
		b := base
		b.Open = 2.0
		assert.Error(t, b.Validate())
	})

	t.Run("Negative volume", func(t *testing.T) {
		b := base
		b.Volume = -1
		assert.Error(t, b.Validate())
	})
}

func TestBarMerge(t *testing.T) {
	a := Bar{Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 10, Spread: 2, RealVolume: 5}
	b := Bar{Open: 1.15, High: 1.3, Low: 1.1, Close: 1.25, Volume: 4, Spread: 1, RealVolume: 2}

	a.Merge(b)
	assert.Equal(t, 1.1, a.Open)
	assert.Equal(t, 1.3, a.High)
	assert.Equal(t, 1.0, a.Low)
	assert.Equal(t, 1.25, a.Close)
	assert.Equal(t, int64(14), a.Volume)
	assert.Equal(t, 2, a.Spread)
	assert.Equal(t, int64(7), a.RealVolume)
}

func TestRoundPrice(t *testing.T) {
	assert.InDelta(t, 1.23457, RoundPrice(1.234567, 5), 1e-12)
	assert.InDelta(t, 123.457, RoundPrice(123.4567, 3), 1e-12)
	assert.InDelta(t, 1.0, RoundPrice(1.0000049, 5), 1e-12)
}
