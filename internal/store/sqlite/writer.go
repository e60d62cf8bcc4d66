package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scalper/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Record is a bar tagged with the series it belongs to.
type Record struct {
	Symbol    string
	Timeframe string
	Bar       model.Bar
}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/bars.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("bar store opened", "path", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);
	`)
	return err
}

// WriteBars upserts a series in one transaction. Re-downloading an overlapping
// range replaces the stored rows.
func (w *Writer) WriteBars(ctx context.Context, symbol, timeframe string, bars []model.Bar) error {
	recs := make([]Record, len(bars))
	for i, b := range bars {
		recs[i] = Record{Symbol: symbol, Timeframe: timeframe, Bar: b}
	}
	return w.insertBatch(ctx, recs)
}

// Run drains recCh into batched transactions, flushing every batch size
// records or every flush delay, whichever comes first. It returns when ctx is
// cancelled or recCh is closed.
func (w *Writer) Run(ctx context.Context, recCh <-chan Record) {
	batch := make([]Record, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// The parent ctx may already be done; the final flush must still land.
		if err := w.insertBatch(context.Background(), batch); err != nil {
			slog.Error("bar store batch insert failed", "error", err, "bars", len(batch))
		} else {
			slog.Debug("bar store committed", "bars", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-recCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		b := r.Bar
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Timeframe, b.Time.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LastTime returns the open time of the newest stored bar of a series, or the
// zero time when none exist.
func (w *Writer) LastTime(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
