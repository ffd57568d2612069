// Package data provides persistence and market data access: the SQLite
// store, the Twelve Data client, candle ingestion, outcome detection,
// performance tracking, and retention.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// Schema creates all tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS candles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT NOT NULL,
	timeframe  TEXT NOT NULL,
	timestamp  DATETIME NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	volume     REAL NOT NULL DEFAULT 0,
	UNIQUE(symbol, timeframe, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, timeframe, timestamp);

CREATE TABLE IF NOT EXISTS signals (
	id           TEXT PRIMARY KEY,
	strategy     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	timeframe    TEXT NOT NULL,
	direction    TEXT NOT NULL,
	entry_price  TEXT NOT NULL,
	stop_loss    TEXT NOT NULL,
	take_profit1 TEXT NOT NULL,
	take_profit2 TEXT NOT NULL,
	risk_reward  TEXT NOT NULL,
	confidence   TEXT NOT NULL,
	reasoning    TEXT,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   DATETIME NOT NULL,
	expires_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);
CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at);

CREATE TABLE IF NOT EXISTS outcomes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id        TEXT NOT NULL UNIQUE REFERENCES signals(id),
	result           TEXT NOT NULL,
	exit_price       TEXT NOT NULL,
	pnl_pips         TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy                TEXT NOT NULL,
	timeframe               TEXT NOT NULL,
	window_days             INTEGER NOT NULL,
	start_date              DATETIME NOT NULL,
	end_date                DATETIME NOT NULL,
	win_rate                REAL NOT NULL,
	profit_factor           REAL NOT NULL,
	sharpe_ratio            REAL NOT NULL,
	max_drawdown            REAL NOT NULL,
	expectancy              REAL NOT NULL,
	total_trades            INTEGER NOT NULL,
	is_walk_forward         INTEGER NOT NULL DEFAULT 0,
	is_overfitted           INTEGER NOT NULL DEFAULT 0,
	walk_forward_efficiency REAL NOT NULL DEFAULT 0,
	spread_model            TEXT,
	created_at              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtests_strategy ON backtest_results(strategy, window_days, created_at);

CREATE TABLE IF NOT EXISTS optimized_params (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy            TEXT NOT NULL,
	params              TEXT NOT NULL,
	win_rate            REAL NOT NULL,
	profit_factor       REAL NOT NULL,
	sharpe_ratio        REAL NOT NULL,
	expectancy          REAL NOT NULL,
	total_trades        INTEGER NOT NULL,
	wfe_ratio           REAL NOT NULL DEFAULT 0,
	is_overfitted       INTEGER NOT NULL DEFAULT 0,
	is_active           INTEGER NOT NULL DEFAULT 0,
	combinations_tested INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_params_active ON optimized_params(strategy, is_active);

CREATE TABLE IF NOT EXISTS strategy_performance (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy       TEXT NOT NULL,
	period         TEXT NOT NULL,
	win_rate       REAL NOT NULL,
	profit_factor  REAL NOT NULL,
	avg_rr         REAL NOT NULL,
	total_signals  INTEGER NOT NULL,
	is_degraded    INTEGER NOT NULL DEFAULT 0,
	degraded_since DATETIME,
	calculated_at  DATETIME NOT NULL,
	UNIQUE(strategy, period)
);
`

// Store wraps the SQLite database. It satisfies the store interfaces
// declared by the selector, risk, and feedback packages.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the SQLite database at path and
// applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertCandles inserts candles, replacing any existing row for the
// same (symbol, timeframe, timestamp). Returns the number of rows
// written.
func (s *Store) UpsertCandles(ctx context.Context, candles []types.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, timestamp) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return 0, fmt.Errorf("upserting candle %s: %w", c.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing candles: %w", err)
	}
	return len(candles), nil
}

// RecentCandles returns up to limit candles in ascending timestamp
// order, ending at the most recent stored candle.
func (s *Store) RecentCandles(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		FROM (
			SELECT * FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`,
		symbol, string(timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// CandlesSince returns candles at or after the given time in ascending
// order.
func (s *Store) CandlesSince(ctx context.Context, symbol string, timeframe types.Timeframe, since time.Time) ([]types.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ?
		ORDER BY timestamp ASC`,
		symbol, string(timeframe), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying candles since: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// LatestCandleTime returns the newest stored candle timestamp, or the
// zero time when none exist.
func (s *Store) LatestCandleTime(ctx context.Context, symbol string, timeframe types.Timeframe) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp DESC LIMIT 1`,
		symbol, string(timeframe)).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest candle time: %w", err)
	}
	return ts.UTC(), nil
}

// CandleCount returns the number of stored candles for a series.
func (s *Store) CandleCount(ctx context.Context, symbol string, timeframe types.Timeframe) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, string(timeframe)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting candles: %w", err)
	}
	return n, nil
}

// PruneCandles deletes candles older than cutoff for one series and
// returns the number deleted.
func (s *Store) PruneCandles(ctx context.Context, symbol string, timeframe types.Timeframe, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM candles WHERE symbol = ? AND timeframe = ? AND timestamp < ?`,
		symbol, string(timeframe), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning candles: %w", err)
	}
	return res.RowsAffected()
}

func scanCandles(rows *sql.Rows) ([]types.Candle, error) {
	var candles []types.Candle
	for rows.Next() {
		var c types.Candle
		var tf string
		if err := rows.Scan(&c.Symbol, &tf, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scanning candle: %w", err)
		}
		c.Timeframe = types.Timeframe(tf)
		c.Timestamp = c.Timestamp.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// marshalParams serializes an optimizer parameter map for storage.
func marshalParams(params map[string]float64) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshaling params: %w", err)
	}
	return string(b), nil
}

func unmarshalParams(raw string) (map[string]float64, error) {
	var params map[string]float64
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("unmarshaling params: %w", err)
	}
	return params, nil
}
