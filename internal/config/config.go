// Package config
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukafetch/dukafetch/internal/session"
)

/*
YAML config example:
instrument: EURUSD
start: 2025-01-01T00:00:00Z
end: 2025-01-03T00:00:00Z
timeframe: m1
mode: ticks
format: csv+hst
utc_offset: "+02:00"
pool_dir: ./datapool
output_dir: ./output
base_urls:
  - https://datafeed.dukascopy.com/datafeed
retry_count: 3
retry_backoff_seconds: 2
timeout_seconds: 30
digits:
  EURUSD: 5
session:
  timezone: Europe/London
  sessions:
    - { day: Monday, start: "08:00", end: "17:00" }
  holidays: ["2025-12-25"]
*/

// Config is the full run configuration: instrument and window, fetch protocol
// settings, feature toggles and the session calendar.
type Config struct {
	Instrument string    `yaml:"instrument"`
	Start      time.Time `yaml:"start"`
	End        time.Time `yaml:"end"`
	Timeframe  string    `yaml:"timeframe"`
	Mode       string    `yaml:"mode"`   // "ticks" or "direct"
	Format     string    `yaml:"format"` // "csv" or "csv+hst"
	UTCOffset  string    `yaml:"utc_offset"`

	PoolDir   string `yaml:"pool_dir"`
	OutputDir string `yaml:"output_dir"`

	BaseURLs            []string `yaml:"base_urls"`
	RetryCount          int      `yaml:"retry_count"`
	RetryBackoffSeconds int      `yaml:"retry_backoff_seconds"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	WorkerCount         int      `yaml:"worker_count"`

	FilterWeekends            bool `yaml:"filter_weekends"`
	FallbackToM1              bool `yaml:"fallback_to_m1"`
	RefreshCache              bool `yaml:"refresh_cache"`
	RecentRefreshDays         int  `yaml:"recent_refresh_days"`
	VerifyChecksum            bool `yaml:"verify_checksum"`
	DeduplicateTicks          bool `yaml:"deduplicate_ticks"`
	SkipFallbackIfTicked      bool `yaml:"skip_fallback_if_ticked"`
	RepairGaps                bool `yaml:"repair_gaps"`
	ValidateM1                bool `yaml:"validate_m1"`
	ValidationTolerancePoints int  `yaml:"validation_tolerance_points"`

	UseSessionCalendar bool           `yaml:"use_session_calendar"`
	Session            session.Config `yaml:"session"`

	Digits map[string]int `yaml:"digits"`

	DBConnStr string `yaml:"db_conn_str"`
}

// defaultDigits is the builtin instrument → decimal-digits lookup; the config
// file may extend or override it but never mutates it.
var defaultDigits = map[string]int{
	"EURUSD": 5,
	"GBPUSD": 5,
	"USDJPY": 3,
	"AUDUSD": 5,
	"USDCAD": 5,
	"USDCHF": 5,
	"NZDUSD": 5,
	"EURJPY": 3,
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Instrument:                "EURUSD",
		Start:                     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:                       time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		Timeframe:                 "m1",
		Mode:                      "ticks",
		Format:                    "csv+hst",
		UTCOffset:                 "+00:00",
		PoolDir:                   "./datapool",
		OutputDir:                 "./output",
		BaseURLs:                  []string{"https://datafeed.dukascopy.com/datafeed"},
		RetryCount:                3,
		RetryBackoffSeconds:       2,
		TimeoutSeconds:            30,
		FilterWeekends:            true,
		FallbackToM1:              true,
		RefreshCache:              true,
		RecentRefreshDays:         30,
		VerifyChecksum:            true,
		DeduplicateTicks:          true,
		SkipFallbackIfTicked:      true,
		RepairGaps:                true,
		ValidateM1:                true,
		ValidationTolerancePoints: 1,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DigitsFor resolves the decimal digit count for an instrument, preferring the
// configured table over the builtin one.
func (c *Config) DigitsFor(instrument string) (int, bool) {
	key := strings.ToUpper(strings.TrimSpace(instrument))
	if d, ok := c.Digits[key]; ok {
		return d, true
	}
	d, ok := defaultDigits[key]
	return d, ok
}

// Offset parses the display offset, e.g. "+02:00" or "-05:30".
func (c *Config) Offset() (time.Duration, error) {
	return ParseUTCOffset(c.UTCOffset)
}

// ParseUTCOffset parses "±HH:MM" into a duration. An empty value is UTC.
func ParseUTCOffset(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch value[0] {
	case '+':
		value = value[1:]
	case '-':
		sign = -1
		value = value[1:]
	}

	parts := strings.SplitN(value, ":", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours > 14 {
		return 0, fmt.Errorf("malformed UTC offset %q", value)
	}
	minutes := 0
	if len(parts) == 2 {
		minutes, err = strconv.Atoi(parts[1])
		if err != nil || minutes > 59 {
			return 0, fmt.Errorf("malformed UTC offset %q", value)
		}
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}
