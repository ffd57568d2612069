package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldsight/trading-backend/pkg/types"
)

// InsertSignal persists a newly published signal.
func (s *Store) InsertSignal(ctx context.Context, sig types.Signal) error {
	var expires interface{}
	if sig.ExpiresAt != nil {
		expires = sig.ExpiresAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
		(id, strategy, symbol, timeframe, direction, entry_price, stop_loss,
		 take_profit1, take_profit2, risk_reward, confidence, reasoning,
		 status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Strategy, sig.Symbol, string(sig.Timeframe), string(sig.Direction),
		sig.EntryPrice.String(), sig.StopLoss.String(),
		sig.TakeProfit1.String(), sig.TakeProfit2.String(),
		sig.RiskReward.String(), sig.Confidence.String(), sig.Reasoning,
		string(sig.Status), sig.CreatedAt.UTC(), expires)
	if err != nil {
		return fmt.Errorf("inserting signal %s: %w", sig.ID, err)
	}
	return nil
}

// ActiveSignals returns all signals still in active status, oldest
// first.
func (s *Store) ActiveSignals(ctx context.Context) ([]types.Signal, error) {
	return s.querySignals(ctx,
		`WHERE status = ? ORDER BY created_at ASC`, string(types.SignalStatusActive))
}

// ActiveSignalCount counts signals currently in active status.
func (s *Store) ActiveSignalCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE status = ?`,
		string(types.SignalStatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active signals: %w", err)
	}
	return n, nil
}

// RecentSignals returns the newest limit signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]types.Signal, error) {
	return s.querySignals(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

// LatestSignalByDirection returns the most recent signal in the given
// direction regardless of status, or nil when none exists. Used by the
// pipeline's duplicate suppression.
func (s *Store) LatestSignalByDirection(ctx context.Context, direction types.Direction) (*types.Signal, error) {
	sigs, err := s.querySignals(ctx,
		`WHERE direction = ? ORDER BY created_at DESC LIMIT 1`, string(direction))
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}
	return &sigs[0], nil
}

// UpdateSignalStatus moves a signal to a new lifecycle status.
func (s *Store) UpdateSignalStatus(ctx context.Context, id string, status types.SignalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating signal %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("signal %s not found", id)
	}
	return nil
}

// ExpireStale marks active signals whose expiry has passed as expired.
// Returns the number of signals transitioned.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(types.SignalStatusExpired), string(types.SignalStatusActive), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expiring stale signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneClosedSignals deletes non-active signals (and their outcomes)
// created before cutoff. Returns the number of signals deleted.
func (s *Store) PruneClosedSignals(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM outcomes WHERE signal_id IN (
			SELECT id FROM signals WHERE status != ? AND created_at < ?
		)`, string(types.SignalStatusActive), cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("pruning outcomes: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM signals WHERE status != ? AND created_at < ?`,
		string(types.SignalStatusActive), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// InsertOutcome records the terminal result of a signal.
func (s *Store) InsertOutcome(ctx context.Context, o types.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (signal_id, result, exit_price, pnl_pips, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.SignalID, string(o.Result), o.ExitPrice.String(), o.PnlPips.String(),
		o.DurationMinutes, o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting outcome for signal %s: %w", o.SignalID, err)
	}
	return nil
}

// OutcomeResults returns all trade results newest-first.
func (s *Store) OutcomeResults(ctx context.Context) ([]types.TradeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM outcomes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying outcome results: %w", err)
	}
	defer rows.Close()

	var results []types.TradeResult
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, types.TradeResult(r))
	}
	return results, rows.Err()
}

// OutcomePnlPips returns per-outcome PnL in pips oldest-first.
func (s *Store) OutcomePnlPips(ctx context.Context) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pnl_pips FROM outcomes ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying outcome pnl: %w", err)
	}
	defer rows.Close()

	var pips []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning pnl: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing pnl %q: %w", raw, err)
		}
		pips = append(pips, d.InexactFloat64())
	}
	return pips, rows.Err()
}

// DailyPnlPips sums outcome PnL in pips for signals created at or after
// the given time.
func (s *Store) DailyPnlPips(ctx context.Context, since time.Time) (float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.pnl_pips FROM outcomes o
		JOIN signals sg ON sg.id = o.signal_id
		WHERE sg.created_at >= ?`, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("querying daily pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, fmt.Errorf("scanning pnl: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing pnl %q: %w", raw, err)
		}
		total = total.Add(d)
	}
	return total.InexactFloat64(), rows.Err()
}

// StrategyOutcome pairs an outcome with its signal's declared
// risk/reward, for live performance aggregation.
type StrategyOutcome struct {
	Result     types.TradeResult
	PnlPips    float64
	RiskReward float64
}

// StrategyOutcomesSince returns outcomes for one strategy's signals
// created at or after since, oldest first.
func (s *Store) StrategyOutcomesSince(ctx context.Context, strategyName string, since time.Time) ([]StrategyOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.result, o.pnl_pips, sg.risk_reward
		FROM outcomes o
		JOIN signals sg ON sg.id = o.signal_id
		WHERE sg.strategy = ? AND sg.created_at >= ?
		ORDER BY o.created_at ASC`, strategyName, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying strategy outcomes: %w", err)
	}
	defer rows.Close()

	var out []StrategyOutcome
	for rows.Next() {
		var so StrategyOutcome
		var result, pnlRaw, rrRaw string
		if err := rows.Scan(&result, &pnlRaw, &rrRaw); err != nil {
			return nil, fmt.Errorf("scanning strategy outcome: %w", err)
		}
		so.Result = types.TradeResult(result)
		pnl, err := decimal.NewFromString(pnlRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing pnl %q: %w", pnlRaw, err)
		}
		rr, err := decimal.NewFromString(rrRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing risk reward %q: %w", rrRaw, err)
		}
		so.PnlPips = pnl.InexactFloat64()
		so.RiskReward = rr.InexactFloat64()
		out = append(out, so)
	}
	return out, rows.Err()
}

func (s *Store) querySignals(ctx context.Context, clause string, args ...interface{}) ([]types.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, symbol, timeframe, direction, entry_price, stop_loss,
		       take_profit1, take_profit2, risk_reward, confidence, reasoning,
		       status, created_at, expires_at
		FROM signals `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()

	var signals []types.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func scanSignal(rows *sql.Rows) (types.Signal, error) {
	var sig types.Signal
	var tf, direction, status string
	var entry, sl, tp1, tp2, rr, conf string
	var reasoning sql.NullString
	var expires sql.NullTime

	if err := rows.Scan(&sig.ID, &sig.Strategy, &sig.Symbol, &tf, &direction,
		&entry, &sl, &tp1, &tp2, &rr, &conf, &reasoning, &status,
		&sig.CreatedAt, &expires); err != nil {
		return sig, fmt.Errorf("scanning signal: %w", err)
	}

	sig.Timeframe = types.Timeframe(tf)
	sig.Direction = types.Direction(direction)
	sig.Status = types.SignalStatus(status)
	sig.Reasoning = reasoning.String
	sig.CreatedAt = sig.CreatedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		sig.ExpiresAt = &t
	}

	var err error
	fields := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&sig.EntryPrice, entry}, {&sig.StopLoss, sl},
		{&sig.TakeProfit1, tp1}, {&sig.TakeProfit2, tp2},
		{&sig.RiskReward, rr}, {&sig.Confidence, conf},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return sig, fmt.Errorf("parsing signal %s price %q: %w", sig.ID, f.raw, err)
		}
	}
	return sig, nil
}
