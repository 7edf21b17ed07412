package tfutils

import (
	"fmt"
	"strings"
)

// Kind tells how a timeframe buckets time.
type Kind int

const (
	KindMinutes Kind = iota
	KindDay
	KindWeek
	KindMonth
)

// Descriptor describes a resampling target timeframe.
type Descriptor struct {
	Token   string
	Minutes int
	Kind    Kind
}

// Parse parses a timeframe token (e.g., "m5", "h1", "d1") into a Descriptor
func Parse(token string) (Descriptor, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "m1":
		return Descriptor{Token: "m1", Minutes: 1, Kind: KindMinutes}, nil
	case "m5":
		return Descriptor{Token: "m5", Minutes: 5, Kind: KindMinutes}, nil
	case "m15":
		return Descriptor{Token: "m15", Minutes: 15, Kind: KindMinutes}, nil
	case "m30":
		return Descriptor{Token: "m30", Minutes: 30, Kind: KindMinutes}, nil
	case "h1":
		return Descriptor{Token: "h1", Minutes: 60, Kind: KindMinutes}, nil
	case "h4":
		return Descriptor{Token: "h4", Minutes: 240, Kind: KindMinutes}, nil
	case "d1":
		return Descriptor{Token: "d1", Minutes: 1440, Kind: KindDay}, nil
	case "w1":
		return Descriptor{Token: "w1", Minutes: 7 * 1440, Kind: KindWeek}, nil
	case "mn":
		return Descriptor{Token: "mn", Minutes: 30 * 1440, Kind: KindMonth}, nil
	default:
		return Descriptor{}, fmt.Errorf("unsupported timeframe %q", token)
	}
}

// GetSupportedTimeframes returns all supported timeframe tokens
func GetSupportedTimeframes() []string {
	return []string{"m1", "m5", "m15", "m30", "h1", "h4", "d1", "w1", "mn"}
}

// IsValidTimeframe checks if a timeframe token is supported
func IsValidTimeframe(token string) bool {
	_, err := Parse(token)
	return err == nil
}
