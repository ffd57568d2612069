// Package feedback closes the self-improvement loop: it flags
// degrading strategies, clears them after sustained recovery, and
// halts signal generation through a circuit breaker during losing
// streaks or runaway drawdown.
package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// Circuit breaker thresholds.
const (
	ConsecutiveLossLimit = 5
	DrawdownMultiplier   = 2.0
	CooldownDuration     = 24 * time.Hour
)

// Store is the persistence surface the feedback loop reads and writes.
type Store interface {
	// OutcomeResults returns trade results newest-first.
	OutcomeResults(ctx context.Context) ([]types.TradeResult, error)
	// OutcomePnlPips returns per-outcome PnL oldest-first.
	OutcomePnlPips(ctx context.Context) ([]float64, error)
	// LatestPerformance returns the newest live performance row for a
	// strategy and period, or nil.
	LatestPerformance(ctx context.Context, strategyName, period string) (*types.StrategyPerformance, error)
	// OldestBacktest returns the oldest non-walk-forward backtest row
	// for a strategy, or nil.
	OldestBacktest(ctx context.Context, strategyName string) (*types.BacktestRecord, error)
	// SetDegraded updates the degradation flag on every performance row
	// for a strategy, stamping DegradedSince when newly set.
	SetDegraded(ctx context.Context, strategyName string, degraded bool) error
}

// BreakerStatus is a snapshot of the circuit breaker for the status
// API.
type BreakerStatus struct {
	Active            bool       `json:"active"`
	TriggeredAt       *time.Time `json:"triggeredAt,omitempty"`
	ConsecutiveLosses int        `json:"consecutiveLosses"`
	RunningDrawdown   float64    `json:"runningDrawdown"`
	MaxDrawdown       float64    `json:"maxDrawdown"`
}

// CircuitBreaker halts signal generation after a losing streak or
// when the running drawdown blows past the historical worst. State is
// in-memory; a restart re-derives it from outcomes on the next check.
type CircuitBreaker struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger

	mu          sync.RWMutex
	active      bool
	triggeredAt time.Time
	lastStatus  BreakerStatus
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(store Store, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		store:  store,
		now:    time.Now,
		logger: logger.Named("breaker"),
	}
}

// Active evaluates the breaker conditions and returns whether signal
// generation should be halted. Satisfies the risk gate's Breaker
// interface.
func (b *CircuitBreaker) Active(ctx context.Context) (bool, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Cooldown reset.
	if b.active && now.Sub(b.triggeredAt) >= CooldownDuration {
		b.logger.Info("circuit breaker cooldown expired, resetting",
			zap.Duration("elapsed", now.Sub(b.triggeredAt)))
		b.active = false
		b.triggeredAt = time.Time{}
	}

	losses, err := b.consecutiveLosses(ctx)
	if err != nil {
		return false, err
	}
	status := BreakerStatus{ConsecutiveLosses: losses}

	if losses >= ConsecutiveLossLimit {
		if !b.active {
			b.active = true
			b.triggeredAt = now
			b.logger.Warn("circuit breaker activated",
				zap.Int("consecutiveLosses", losses),
				zap.Int("limit", ConsecutiveLossLimit))
		}
		b.snapshot(status)
		return true, nil
	}

	running, maxDD, err := b.drawdown(ctx)
	if err != nil {
		return false, err
	}
	status.RunningDrawdown = running
	status.MaxDrawdown = maxDD

	// No historical baseline means no drawdown trigger.
	if maxDD > 0 && running > DrawdownMultiplier*maxDD {
		if !b.active {
			b.active = true
			b.triggeredAt = now
			b.logger.Warn("circuit breaker activated",
				zap.Float64("runningDrawdown", running),
				zap.Float64("maxDrawdown", maxDD),
				zap.Float64("multiplier", DrawdownMultiplier))
		}
		b.snapshot(status)
		return true, nil
	}

	if b.active {
		b.logger.Info("circuit breaker conditions cleared, resetting")
		b.active = false
		b.triggeredAt = time.Time{}
	}
	b.snapshot(status)
	return false, nil
}

// Status returns the last evaluated breaker snapshot without touching
// storage.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status := b.lastStatus
	status.Active = b.active
	if b.active {
		t := b.triggeredAt
		status.TriggeredAt = &t
	}
	return status
}

// snapshot records the evaluation for Status readers. Caller holds mu.
func (b *CircuitBreaker) snapshot(status BreakerStatus) {
	status.Active = b.active
	if b.active {
		t := b.triggeredAt
		status.TriggeredAt = &t
	}
	b.lastStatus = status
}

// consecutiveLosses counts losses backward from the latest outcome
// until the first win.
func (b *CircuitBreaker) consecutiveLosses(ctx context.Context) (int, error) {
	results, err := b.store.OutcomeResults(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range results {
		if r == types.ResultSLHit || r == types.ResultExpired {
			count++
			continue
		}
		break
	}
	return count, nil
}

// drawdown walks the cumulative outcome PnL curve and returns the
// current (ongoing) decline plus the deepest decline that has since
// been recovered from. The ongoing decline is excluded from the
// historical max; otherwise running could never exceed it and the 2x
// trigger would be unreachable.
func (b *CircuitBreaker) drawdown(ctx context.Context) (running, max float64, err error) {
	pnl, err := b.store.OutcomePnlPips(ctx)
	if err != nil {
		return 0, 0, err
	}

	var cumulative, peak, trough float64
	for _, p := range pnl {
		cumulative += p
		if cumulative > peak {
			if trough > max {
				max = trough
			}
			trough = 0
			peak = cumulative
			continue
		}
		if dd := peak - cumulative; dd > trough {
			trough = dd
		}
	}
	return peak - cumulative, max, nil
}
