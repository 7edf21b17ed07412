// Package db
package db

import (
	"context"
	"time"

	"github.com/dukafetch/dukafetch/internal/market"
)

// Storage persists finished bar series. Implementations must be safe for
// concurrent use.
type Storage interface {
	SaveBars(ctx context.Context, instrument, timeframe string, bars []market.Bar) error
	GetBars(ctx context.Context, instrument, timeframe string, start, end time.Time) ([]market.Bar, error)
	Close() error
}
