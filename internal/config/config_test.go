package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("File overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
instrument: USDJPY
start: 2025-02-01T00:00:00Z
end: 2025-02-02T00:00:00Z
timeframe: m5
utc_offset: "+02:00"
retry_count: 7
filter_weekends: false
digits:
  XAUUSD: 2
session:
  timezone: Europe/London
  sessions:
    - { day: Monday, start: "08:00", end: "17:00" }
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "USDJPY", cfg.Instrument)
		assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), cfg.Start)
		assert.Equal(t, "m5", cfg.Timeframe)
		assert.Equal(t, 7, cfg.RetryCount)
		assert.False(t, cfg.FilterWeekends)
		// Untouched settings keep their defaults.
		assert.Equal(t, "ticks", cfg.Mode)
		assert.True(t, cfg.FallbackToM1)
		assert.Equal(t, "Europe/London", cfg.Session.TimeZone)
		require.Len(t, cfg.Session.Sessions, 1)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("instrument: [unterminated"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestDigitsFor(t *testing.T) {
	cfg := Default()
	cfg.Digits = map[string]int{"XAUUSD": 2, "EURUSD": 4}

	t.Run("Configured overrides builtin", func(t *testing.T) {
		d, ok := cfg.DigitsFor("EURUSD")
		assert.True(t, ok)
		assert.Equal(t, 4, d)
	})

	t.Run("Configured extension", func(t *testing.T) {
		d, ok := cfg.DigitsFor("xauusd")
		assert.True(t, ok)
		assert.Equal(t, 2, d)
	})

	t.Run("Builtin fallback", func(t *testing.T) {
		d, ok := cfg.DigitsFor("usdjpy")
		assert.True(t, ok)
		assert.Equal(t, 3, d)
	})

	t.Run("Unknown instrument", func(t *testing.T) {
		_, ok := cfg.DigitsFor("ZZZZZZ")
		assert.False(t, ok)
	})
}

func TestParseUTCOffset(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"+00:00", 0},
		{"+02:00", 2 * time.Hour},
		{"-05:30", -(5*time.Hour + 30*time.Minute)},
		{"+14:00", 14 * time.Hour},
		{"3", 3 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseUTCOffset(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"+15:00", "abc", "+02:75"} {
		t.Run("bad "+bad, func(t *testing.T) {
			_, err := ParseUTCOffset(bad)
			assert.Error(t, err)
		})
	}
}
