package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

type fakeStore struct {
	results  []types.TradeResult
	pnl      []float64
	perf     map[string]*types.StrategyPerformance // key strategy|period
	baseline map[string]*types.BacktestRecord

	degradedSet map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		perf:        map[string]*types.StrategyPerformance{},
		baseline:    map[string]*types.BacktestRecord{},
		degradedSet: map[string]bool{},
	}
}

func (f *fakeStore) OutcomeResults(context.Context) ([]types.TradeResult, error) {
	return f.results, nil
}

func (f *fakeStore) OutcomePnlPips(context.Context) ([]float64, error) {
	return f.pnl, nil
}

func (f *fakeStore) LatestPerformance(_ context.Context, name, period string) (*types.StrategyPerformance, error) {
	return f.perf[name+"|"+period], nil
}

func (f *fakeStore) OldestBacktest(_ context.Context, name string) (*types.BacktestRecord, error) {
	return f.baseline[name], nil
}

func (f *fakeStore) SetDegraded(_ context.Context, name string, degraded bool) error {
	f.degradedSet[name] = degraded
	return nil
}

func breakerAt(store *fakeStore, now time.Time) *CircuitBreaker {
	b := NewCircuitBreaker(store, zap.NewNop())
	b.now = func() time.Time { return now }
	return b
}

func TestBreakerInactiveByDefault(t *testing.T) {
	store := newFakeStore()
	store.results = []types.TradeResult{types.ResultTP1Hit, types.ResultSLHit}

	b := breakerAt(store, time.Now())
	active, err := b.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.Zero(t, b.Status().ConsecutiveLosses)
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	store := newFakeStore()
	// Five losses newest-first, then a win further back.
	store.results = []types.TradeResult{
		types.ResultSLHit, types.ResultExpired, types.ResultSLHit,
		types.ResultSLHit, types.ResultExpired, types.ResultTP2Hit,
	}

	b := breakerAt(store, time.Now())
	active, err := b.Active(context.Background())
	require.NoError(t, err)
	assert.True(t, active)

	status := b.Status()
	assert.True(t, status.Active)
	assert.Equal(t, 5, status.ConsecutiveLosses)
	require.NotNil(t, status.TriggeredAt)
}

func TestBreakerLossStreakBrokenByWin(t *testing.T) {
	store := newFakeStore()
	store.results = []types.TradeResult{
		types.ResultSLHit, types.ResultSLHit, types.ResultTP1Hit,
		types.ResultSLHit, types.ResultSLHit, types.ResultSLHit,
	}

	b := breakerAt(store, time.Now())
	active, err := b.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 2, b.Status().ConsecutiveLosses)
}

func TestBreakerTripsOnDrawdown(t *testing.T) {
	store := newFakeStore()
	// Equity: +100 peak, -30 dip (recovered, historical dd 30), new
	// peak +140, then slide to +55: running dd 85 > 2 x 30.
	store.pnl = []float64{100, -30, 70, -85}

	b := breakerAt(store, time.Now())
	active, err := b.Active(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestBreakerNoDrawdownBaseline(t *testing.T) {
	store := newFakeStore()
	// Monotonic losses: running dd equals max dd, never exceeds 2x.
	store.pnl = []float64{-10, -10, -10}
	store.results = []types.TradeResult{types.ResultSLHit, types.ResultSLHit, types.ResultSLHit}

	b := breakerAt(store, time.Now())
	active, err := b.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestBreakerCooldownReset(t *testing.T) {
	store := newFakeStore()
	store.results = []types.TradeResult{
		types.ResultSLHit, types.ResultSLHit, types.ResultSLHit,
		types.ResultSLHit, types.ResultSLHit,
	}

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := breakerAt(store, start)

	active, err := b.Active(context.Background())
	require.NoError(t, err)
	require.True(t, active)

	// A win ends the streak; before cooldown the trip state alone no
	// longer holds the breaker once conditions clear.
	store.results = append([]types.TradeResult{types.ResultTP1Hit}, store.results...)
	b.now = func() time.Time { return start.Add(1 * time.Hour) }

	active, err = b.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestBreakerCooldownExpiryWithOngoingLosses(t *testing.T) {
	store := newFakeStore()
	store.results = []types.TradeResult{
		types.ResultSLHit, types.ResultSLHit, types.ResultSLHit,
		types.ResultSLHit, types.ResultSLHit,
	}

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := breakerAt(store, start)

	active, err := b.Active(context.Background())
	require.NoError(t, err)
	require.True(t, active)

	// After the cooldown the breaker resets, but the streak is still
	// there so it re-trips with a fresh trigger time.
	later := start.Add(CooldownDuration + time.Minute)
	b.now = func() time.Time { return later }

	active, err = b.Active(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, later, *b.Status().TriggeredAt)
}

func perfRow(name, period string, wr, pf float64, degraded bool, since time.Time) *types.StrategyPerformance {
	row := &types.StrategyPerformance{
		Strategy:     name,
		Period:       period,
		WinRate:      wr,
		ProfitFactor: pf,
		TotalSignals: 10,
		IsDegraded:   degraded,
		CalculatedAt: since,
	}
	if degraded {
		row.DegradedSince = &since
	}
	return row
}

func TestCheckDegradationFlagsLowProfitFactor(t *testing.T) {
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.5, 0.8, false, time.Now())
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.55}

	m := NewMonitor(store, zap.NewNop())
	degraded, reason, err := m.CheckDegradation(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Contains(t, reason, "profit factor")
	assert.True(t, store.degradedSet["trend_continuation"])
}

func TestCheckDegradationWinRateDrop(t *testing.T) {
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.40, 1.5, false, time.Now())
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.60}

	m := NewMonitor(store, zap.NewNop())
	degraded, reason, err := m.CheckDegradation(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Contains(t, reason, "win rate dropped")
}

func TestCheckDegradationHealthy(t *testing.T) {
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.58, 1.8, false, time.Now())
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.60}

	m := NewMonitor(store, zap.NewNop())
	degraded, _, err := m.CheckDegradation(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.False(t, degraded)
	// Flag unchanged: no write issued.
	_, wrote := store.degradedSet["trend_continuation"]
	assert.False(t, wrote)
}

func TestCheckRecoveryRequiresDwell(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.40, 0.9, true, now.Add(-3*24*time.Hour))
	store.perf["trend_continuation|7d"] = perfRow("trend_continuation", "7d", 0.58, 1.4, false, now)
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.60}

	m := NewMonitor(store, zap.NewNop())
	m.now = func() time.Time { return now }

	recovered, err := m.CheckRecovery(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestCheckRecoveryClearsFlag(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.40, 0.9, true, now.Add(-8*24*time.Hour))
	store.perf["trend_continuation|7d"] = perfRow("trend_continuation", "7d", 0.57, 1.2, false, now)
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.60}

	m := NewMonitor(store, zap.NewNop())
	m.now = func() time.Time { return now }

	recovered, err := m.CheckRecovery(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.False(t, store.degradedSet["trend_continuation"])
}

func TestCheckRecoveryStillWeak(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.perf["trend_continuation|30d"] = perfRow("trend_continuation", "30d", 0.40, 0.9, true, now.Add(-10*24*time.Hour))
	store.perf["trend_continuation|7d"] = perfRow("trend_continuation", "7d", 0.45, 0.95, false, now)
	store.baseline["trend_continuation"] = &types.BacktestRecord{Strategy: "trend_continuation", WinRate: 0.60}

	m := NewMonitor(store, zap.NewNop())
	m.now = func() time.Time { return now }

	recovered, err := m.CheckRecovery(context.Background(), "trend_continuation")
	require.NoError(t, err)
	assert.False(t, recovered)
}
