package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dukafetch/dukafetch/internal/market"
)

// Postgres stores bars in a single upsert-on-conflict table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings a connection.
func NewPostgres(ctx context.Context, connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: conn}, nil
}

// EnsureSchema creates the bars table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			instrument  TEXT             NOT NULL,
			timeframe   TEXT             NOT NULL,
			time        TIMESTAMPTZ      NOT NULL,
			open        DOUBLE PRECISION NOT NULL,
			high        DOUBLE PRECISION NOT NULL,
			low         DOUBLE PRECISION NOT NULL,
			close       DOUBLE PRECISION NOT NULL,
			volume      BIGINT           NOT NULL,
			spread      INTEGER          NOT NULL,
			real_volume BIGINT           NOT NULL,
			PRIMARY KEY (instrument, timeframe, time)
		)`)
	if err != nil {
		return fmt.Errorf("create bars table: %w", err)
	}
	return nil
}

// SaveBars upserts the series in one transaction.
// NOTE: In case of conflict, it updates the bar.
func (p *Postgres) SaveBars(ctx context.Context, instrument, timeframe string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (instrument, timeframe, time, open, high, low, close, volume, spread, real_volume)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (instrument, timeframe, time) DO UPDATE SET
			open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
			close=EXCLUDED.close, volume=EXCLUDED.volume,
			spread=EXCLUDED.spread, real_volume=EXCLUDED.real_volume`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			tx.Rollback()
			return fmt.Errorf("invalid bar at %s: %w", b.Time, err)
		}
		if _, err := stmt.ExecContext(ctx, instrument, timeframe, b.Time,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Spread, b.RealVolume); err != nil {
			tx.Rollback()
			return fmt.Errorf("save bar at %s: %w", b.Time, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bars: %w", err)
	}
	return nil
}

// GetBars returns bars within [start,end] sorted ascending by time.
func (p *Postgres) GetBars(ctx context.Context, instrument, timeframe string, start, end time.Time) ([]market.Bar, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume, spread, real_volume
		FROM bars
		WHERE instrument=$1 AND timeframe=$2 AND time BETWEEN $3 AND $4
		ORDER BY time ASC`,
		instrument, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Spread, &b.RealVolume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
