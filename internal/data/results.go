package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goldsight/trading-backend/pkg/types"
)

// InsertBacktest persists a backtest evaluation row. A zero CreatedAt
// is stamped with the current time.
func (s *Store) InsertBacktest(ctx context.Context, r types.BacktestRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_results
		(strategy, timeframe, window_days, start_date, end_date, win_rate,
		 profit_factor, sharpe_ratio, max_drawdown, expectancy, total_trades,
		 is_walk_forward, is_overfitted, walk_forward_efficiency, spread_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Strategy, string(r.Timeframe), r.WindowDays, r.StartDate.UTC(), r.EndDate.UTC(),
		r.WinRate, r.ProfitFactor, r.SharpeRatio, r.MaxDrawdown, r.Expectancy,
		r.TotalTrades, r.IsWalkForward, r.IsOverfitted, r.WalkForwardEfficiency,
		r.SpreadModel, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting backtest for %s: %w", r.Strategy, err)
	}
	return nil
}

// LatestBacktest returns the newest non-walk-forward backtest row for a
// strategy and window; windowDays 0 matches any window. Returns nil
// when no row exists.
func (s *Store) LatestBacktest(ctx context.Context, strategyName string, windowDays int) (*types.BacktestRecord, error) {
	query := `
		SELECT id, strategy, timeframe, window_days, start_date, end_date, win_rate,
		       profit_factor, sharpe_ratio, max_drawdown, expectancy, total_trades,
		       is_walk_forward, is_overfitted, walk_forward_efficiency, spread_model, created_at
		FROM backtest_results
		WHERE strategy = ? AND is_walk_forward = 0`
	args := []interface{}{strategyName}
	if windowDays > 0 {
		query += ` AND window_days = ?`
		args = append(args, windowDays)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`
	return s.queryBacktest(ctx, query, args...)
}

// OldestBacktest returns the oldest non-walk-forward backtest row for a
// strategy, used as the degradation baseline. Returns nil when no row
// exists.
func (s *Store) OldestBacktest(ctx context.Context, strategyName string) (*types.BacktestRecord, error) {
	return s.queryBacktest(ctx, `
		SELECT id, strategy, timeframe, window_days, start_date, end_date, win_rate,
		       profit_factor, sharpe_ratio, max_drawdown, expectancy, total_trades,
		       is_walk_forward, is_overfitted, walk_forward_efficiency, spread_model, created_at
		FROM backtest_results
		WHERE strategy = ? AND is_walk_forward = 0
		ORDER BY created_at ASC, id ASC LIMIT 1`, strategyName)
}

// RecentBacktests returns the newest limit backtest rows across all
// strategies, newest first.
func (s *Store) RecentBacktests(ctx context.Context, limit int) ([]types.BacktestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, timeframe, window_days, start_date, end_date, win_rate,
		       profit_factor, sharpe_ratio, max_drawdown, expectancy, total_trades,
		       is_walk_forward, is_overfitted, walk_forward_efficiency, spread_model, created_at
		FROM backtest_results
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent backtests: %w", err)
	}
	defer rows.Close()

	var records []types.BacktestRecord
	for rows.Next() {
		r, err := scanBacktest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) queryBacktest(ctx context.Context, query string, args ...interface{}) (*types.BacktestRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying backtest: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanBacktest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanBacktest(rows *sql.Rows) (types.BacktestRecord, error) {
	var r types.BacktestRecord
	var tf string
	var spread sql.NullString
	if err := rows.Scan(&r.ID, &r.Strategy, &tf, &r.WindowDays, &r.StartDate, &r.EndDate,
		&r.WinRate, &r.ProfitFactor, &r.SharpeRatio, &r.MaxDrawdown, &r.Expectancy,
		&r.TotalTrades, &r.IsWalkForward, &r.IsOverfitted, &r.WalkForwardEfficiency,
		&spread, &r.CreatedAt); err != nil {
		return r, fmt.Errorf("scanning backtest: %w", err)
	}
	r.Timeframe = types.Timeframe(tf)
	r.SpreadModel = spread.String
	r.StartDate = r.StartDate.UTC()
	r.EndDate = r.EndDate.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// SaveOptimizedParams stores a new parameter set for a strategy and
// marks it active, deactivating any previous set. Overfitted sets are
// stored for the record but left inactive.
func (s *Store) SaveOptimizedParams(ctx context.Context, p types.OptimizedParams) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	raw, err := marshalParams(p.Params)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	active := !p.IsOverfitted
	if active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE optimized_params SET is_active = 0 WHERE strategy = ?`,
			p.Strategy); err != nil {
			return fmt.Errorf("deactivating params for %s: %w", p.Strategy, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO optimized_params
		(strategy, params, win_rate, profit_factor, sharpe_ratio, expectancy,
		 total_trades, wfe_ratio, is_overfitted, is_active, combinations_tested, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Strategy, raw, p.WinRate, p.ProfitFactor, p.SharpeRatio, p.Expectancy,
		p.TotalTrades, p.WFERatio, p.IsOverfitted, active, p.CombinationsTested,
		p.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("inserting params for %s: %w", p.Strategy, err)
	}
	return tx.Commit()
}

// ActiveParams returns the active optimizer parameter set for a
// strategy, or nil when none exists.
func (s *Store) ActiveParams(ctx context.Context, strategyName string) (*types.OptimizedParams, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, params, win_rate, profit_factor, sharpe_ratio,
		       expectancy, total_trades, wfe_ratio, is_overfitted, is_active,
		       combinations_tested, created_at
		FROM optimized_params
		WHERE strategy = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC LIMIT 1`, strategyName)
	if err != nil {
		return nil, fmt.Errorf("querying active params: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p types.OptimizedParams
	var raw string
	if err := rows.Scan(&p.ID, &p.Strategy, &raw, &p.WinRate, &p.ProfitFactor,
		&p.SharpeRatio, &p.Expectancy, &p.TotalTrades, &p.WFERatio,
		&p.IsOverfitted, &p.IsActive, &p.CombinationsTested, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning params: %w", err)
	}
	if p.Params, err = unmarshalParams(raw); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// UpsertPerformance writes a rolling performance row, replacing the
// previous row for the same strategy and period. The degradation flag
// and timestamp survive the refresh.
func (s *Store) UpsertPerformance(ctx context.Context, p types.StrategyPerformance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_performance
		(strategy, period, win_rate, profit_factor, avg_rr, total_signals, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy, period) DO UPDATE SET
			win_rate = excluded.win_rate,
			profit_factor = excluded.profit_factor,
			avg_rr = excluded.avg_rr,
			total_signals = excluded.total_signals,
			calculated_at = excluded.calculated_at`,
		p.Strategy, p.Period, p.WinRate, p.ProfitFactor, p.AvgRR,
		p.TotalSignals, p.CalculatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting performance for %s/%s: %w", p.Strategy, p.Period, err)
	}
	return nil
}

// LatestPerformance returns the performance row for a strategy and
// period ("7d"/"30d"), or nil when none exists.
func (s *Store) LatestPerformance(ctx context.Context, strategyName, period string) (*types.StrategyPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, period, win_rate, profit_factor, avg_rr,
		       total_signals, is_degraded, degraded_since, calculated_at
		FROM strategy_performance
		WHERE strategy = ? AND period = ?`, strategyName, period)
	if err != nil {
		return nil, fmt.Errorf("querying performance: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p types.StrategyPerformance
	var since sql.NullTime
	if err := rows.Scan(&p.ID, &p.Strategy, &p.Period, &p.WinRate, &p.ProfitFactor,
		&p.AvgRR, &p.TotalSignals, &p.IsDegraded, &since, &p.CalculatedAt); err != nil {
		return nil, fmt.Errorf("scanning performance: %w", err)
	}
	if since.Valid {
		t := since.Time.UTC()
		p.DegradedSince = &t
	}
	p.CalculatedAt = p.CalculatedAt.UTC()
	return &p, nil
}

// SetDegraded updates the degradation flag on every performance row for
// a strategy, stamping degraded_since when newly set and clearing it on
// recovery.
func (s *Store) SetDegraded(ctx context.Context, strategyName string, degraded bool) error {
	var err error
	if degraded {
		_, err = s.db.ExecContext(ctx, `
			UPDATE strategy_performance
			SET is_degraded = 1,
			    degraded_since = COALESCE(degraded_since, ?)
			WHERE strategy = ?`, time.Now().UTC(), strategyName)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE strategy_performance
			SET is_degraded = 0, degraded_since = NULL
			WHERE strategy = ?`, strategyName)
	}
	if err != nil {
		return fmt.Errorf("setting degraded=%v for %s: %w", degraded, strategyName, err)
	}
	return nil
}
