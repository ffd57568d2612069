// Package risk enforces capital-protection rules before a signal is
// published: circuit breaker, daily loss limit, concurrent signal cap,
// and volatility-adjusted position sizing.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// ATR position-size multiplier bounds.
const (
	atrFactorFloor = 0.5
	atrFactorCap   = 1.5
)

// minPositionSize is returned when sizing inputs are invalid.
const minPositionSize = 0.01

// Store is the persistence surface the risk gate reads from.
type Store interface {
	// DailyPnlPips sums outcome PnL in pips for signals created at or
	// after the given time.
	DailyPnlPips(ctx context.Context, since time.Time) (float64, error)
	// ActiveSignalCount counts signals currently in active status.
	ActiveSignalCount(ctx context.Context) (int, error)
}

// Breaker exposes the circuit breaker state. When active, all signal
// generation is suppressed.
type Breaker interface {
	Active(ctx context.Context) (bool, error)
}

// Manager runs the risk checks.
type Manager struct {
	store   Store
	breaker Breaker
	config  types.RiskConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager creates a risk manager.
func NewManager(store Store, breaker Breaker, config types.RiskConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		breaker: breaker,
		config:  config,
		now:     time.Now,
		logger:  logger.Named("risk"),
	}
}

// Check runs the risk gates against candidates, in input order:
//
//  1. circuit breaker: active breaker rejects everything
//  2. daily loss limit: today's realized loss past the limit rejects
//     everything
//  3. concurrent signal cap, then volatility-adjusted sizing, per
//     candidate
func (m *Manager) Check(ctx context.Context, candidates []types.CandidateSignal, currentATR, baselineATR float64) ([]types.RiskCheckResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	active, err := m.breaker.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker check: %w", err)
	}
	if active {
		m.logger.Warn("circuit breaker active, suppressing all signal generation")
		return rejectAll(candidates, "circuit breaker active: signal generation halted"), nil
	}

	breached, dailyPnl, err := m.checkDailyLoss(ctx)
	if err != nil {
		return nil, fmt.Errorf("daily loss check: %w", err)
	}
	if breached {
		m.logger.Warn("daily loss limit breached, suppressing all signal generation",
			zap.Float64("dailyPnlPips", dailyPnl))
		results := rejectAll(candidates, fmt.Sprintf("daily loss limit breached: %.2f pips", dailyPnl))
		for i := range results {
			results[i].DailyPnlPips = dailyPnl
		}
		return results, nil
	}

	results := make([]types.RiskCheckResult, 0, len(candidates))
	for _, cand := range candidates {
		activeCount, err := m.store.ActiveSignalCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("active signal count: %w", err)
		}
		if activeCount >= m.config.MaxConcurrentSignals {
			m.logger.Info("concurrent signal limit reached",
				zap.Int("active", activeCount),
				zap.Int("max", m.config.MaxConcurrentSignals),
				zap.String("strategy", cand.Strategy))
			results = append(results, types.RiskCheckResult{
				Reason: fmt.Sprintf("concurrent signal limit: %d/%d active",
					activeCount, m.config.MaxConcurrentSignals),
				DailyPnlPips: dailyPnl,
			})
			continue
		}

		slDistance := cand.EntryPrice.Sub(cand.StopLoss).Abs().InexactFloat64()
		size := m.PositionSize(slDistance, currentATR, baselineATR)
		riskAmount := m.config.AccountBalance * m.config.RiskPerTrade

		m.logger.Info("risk check approved",
			zap.String("strategy", cand.Strategy),
			zap.String("direction", string(cand.Direction)),
			zap.String("entry", cand.EntryPrice.String()),
			zap.Float64("positionSize", size),
			zap.Float64("riskAmount", riskAmount))

		results = append(results, types.RiskCheckResult{
			Approved:     true,
			PositionSize: size,
			RiskAmount:   riskAmount,
			DailyPnlPips: dailyPnl,
		})
	}
	return results, nil
}

// checkDailyLoss sums today's realized pips and compares the dollar
// loss to the daily limit as a fraction of the account balance.
func (m *Manager) checkDailyLoss(ctx context.Context) (bool, float64, error) {
	midnight := m.now().UTC().Truncate(24 * time.Hour)

	pips, err := m.store.DailyPnlPips(ctx, midnight)
	if err != nil {
		return false, 0, err
	}
	if pips == 0 {
		return false, 0, nil
	}

	lossPct := pips * types.PipValue / m.config.AccountBalance
	breached := lossPct <= -m.config.MaxDailyLossPct

	m.logger.Debug("daily pnl",
		zap.Float64("pips", pips),
		zap.Float64("pctOfAccount", lossPct),
		zap.Bool("breached", breached))
	return breached, pips, nil
}

// PositionSize computes the volatility-adjusted position size:
// (risk amount / SL distance) scaled by baselineATR/currentATR, with
// the ATR factor clamped. Invalid inputs yield the minimum size.
func (m *Manager) PositionSize(slDistance, currentATR, baselineATR float64) float64 {
	if slDistance <= 0 || currentATR <= 0 || baselineATR <= 0 {
		m.logger.Warn("invalid position sizing inputs",
			zap.Float64("slDistance", slDistance),
			zap.Float64("currentAtr", currentATR),
			zap.Float64("baselineAtr", baselineATR))
		return minPositionSize
	}

	riskAmount := m.config.AccountBalance * m.config.RiskPerTrade

	atrFactor := baselineATR / currentATR
	if atrFactor < atrFactorFloor {
		atrFactor = atrFactorFloor
	} else if atrFactor > atrFactorCap {
		atrFactor = atrFactorCap
	}

	size := riskAmount / slDistance * atrFactor
	return math.Round(size*100) / 100
}

func rejectAll(candidates []types.CandidateSignal, reason string) []types.RiskCheckResult {
	results := make([]types.RiskCheckResult, len(candidates))
	for i := range results {
		results[i] = types.RiskCheckResult{Reason: reason}
	}
	return results
}
