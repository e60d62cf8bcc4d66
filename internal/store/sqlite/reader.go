// Package sqlite stores bar history in a SQLite database for backtests and
// for warming the live window.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scalper/internal/model"
)

// Reader provides read-only access to stored bars.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// ReadBars returns the bars of a series with open time in [from, to), oldest
// first. A zero from or to leaves that side unbounded.
func (r *Reader) ReadBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Bar, error) {
	lo, hi := int64(0), int64(1<<62)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	if !to.IsZero() {
		hi = to.UnixMilli()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, timeframe, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			b  model.Bar
			ts int64
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
