package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scalper/internal/model"
)

// Journal persists closed trades to SQLite for analysis and audit. Rows are
// grouped by run id so backtests and live sessions can share one file.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		side         TEXT NOT NULL,
		entry_time   TEXT NOT NULL, -- RFC 3339, UTC
		entry_price  REAL NOT NULL,
		exit_time    TEXT NOT NULL,
		exit_price   REAL NOT NULL,
		exit_reason  TEXT NOT NULL,
		qty          REAL NOT NULL,
		pnl          REAL NOT NULL,
		fees         REAL NOT NULL,
		bar_index    INTEGER NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, entry_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("trade journal opened", "path", dbPath)
	return &Journal{db: db}, nil
}

// Run identifies the session a trade belongs to.
type Run struct {
	ID       string
	Symbol   string
	Strategy string
}

const insertTrade = `INSERT INTO trades
	(run_id, symbol, strategy, side, entry_time, entry_price, exit_time, exit_price, exit_reason, qty, pnl, fees, bar_index)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordTrade persists one closed trade.
func (j *Journal) RecordTrade(ctx context.Context, run Run, t model.Trade) error {
	return j.RecordTrades(ctx, run, []model.Trade{t})
}

// RecordTrades persists a batch of trades in a single transaction.
func (j *Journal) RecordTrades(ctx context.Context, run Run, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertTrade)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("journal: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			run.ID, run.Symbol, run.Strategy, string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339), t.EntryPrice,
			t.ExitTime.UTC().Format(time.RFC3339), t.ExitPrice,
			string(t.ExitReason), t.Quantity, t.PnL, t.Fees, t.BarIndex,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Trades returns every trade of a run in insertion order.
func (j *Journal) Trades(ctx context.Context, runID string) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT side, entry_time, entry_price, exit_time, exit_price, exit_reason, qty, pnl, fees, bar_index
		 FROM trades WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var (
			t               model.Trade
			side, reason    string
			entryTS, exitTS string
		)
		if err := rows.Scan(&side, &entryTS, &t.EntryPrice, &exitTS, &t.ExitPrice, &reason,
			&t.Quantity, &t.PnL, &t.Fees, &t.BarIndex); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.ExitReason = model.ExitReason(reason)
		if t.EntryTime, err = time.Parse(time.RFC3339, entryTS); err != nil {
			return nil, fmt.Errorf("journal: trade entry_time: %w", err)
		}
		if t.ExitTime, err = time.Parse(time.RFC3339, exitTS); err != nil {
			return nil, fmt.Errorf("journal: trade exit_time: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
