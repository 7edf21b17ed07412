// Package session filters ingestion by trading-session activity: weekly
// open/closed windows in a named time zone, plus holiday dates.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule is one configured weekly window. Times are "HH:MM" local; "24:00" is
// accepted as end of day.
type Rule struct {
	Day   string `yaml:"day" json:"day"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Config holds the raw session calendar configuration.
type Config struct {
	TimeZone string   `yaml:"timezone" json:"timezone"`
	Sessions []Rule   `yaml:"sessions" json:"sessions"`
	Holidays []string `yaml:"holidays" json:"holidays"`
}

type window struct {
	day   time.Weekday
	start int // minutes of day
	end   int
}

// open reports whether the window contains the given minute of day.
// end == start means the whole day; end < start wraps past midnight.
func (w window) open(minute int) bool {
	if w.end == w.start {
		return true
	}
	if w.end > w.start {
		return minute >= w.start && minute < w.end
	}
	return minute >= w.start || minute < w.end
}

// Calendar answers open/closed for instants. A nil Calendar is always open.
type Calendar struct {
	loc      *time.Location
	windows  []window
	holidays map[string]struct{}
}

// New builds a Calendar. An unresolvable time zone falls back to UTC; rules
// with an unknown weekday or malformed times are skipped.
func New(cfg Config) *Calendar {
	loc := time.UTC
	if cfg.TimeZone != "" {
		if l, err := time.LoadLocation(cfg.TimeZone); err == nil {
			loc = l
		}
	}

	c := &Calendar{loc: loc, holidays: make(map[string]struct{})}
	for _, rule := range cfg.Sessions {
		day, ok := parseWeekday(rule.Day)
		if !ok {
			continue
		}
		start, err := parseMinuteOfDay(rule.Start)
		if err != nil {
			continue
		}
		end, err := parseMinuteOfDay(rule.End)
		if err != nil {
			continue
		}
		c.windows = append(c.windows, window{day: day, start: start, end: end})
	}
	for _, h := range cfg.Holidays {
		if d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(h), loc); err == nil {
			c.holidays[d.Format("2006-01-02")] = struct{}{}
		}
	}
	return c
}

// IsOpen reports whether the instant falls inside a configured session window.
// With no configured windows the calendar is a no-op and everything is open.
func (c *Calendar) IsOpen(t time.Time) bool {
	if c == nil || len(c.windows) == 0 {
		return true
	}

	local := t.In(c.loc)
	if _, ok := c.holidays[local.Format("2006-01-02")]; ok {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	for _, w := range c.windows {
		if w.day != local.Weekday() {
			continue
		}
		if w.open(minute) {
			return true
		}
	}
	return false
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday":
		return time.Sunday, true
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	default:
		return 0, false
	}
}

func parseMinuteOfDay(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return 24 * 60, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return h*60 + m, nil
}
