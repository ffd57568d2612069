package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

type fakeStore struct {
	dailyPips   float64
	activeCount int
}

func (f *fakeStore) DailyPnlPips(context.Context, time.Time) (float64, error) {
	return f.dailyPips, nil
}

func (f *fakeStore) ActiveSignalCount(context.Context) (int, error) {
	return f.activeCount, nil
}

type fakeBreaker struct {
	active bool
}

func (f *fakeBreaker) Active(context.Context) (bool, error) {
	return f.active, nil
}

func testConfig() types.RiskConfig {
	return types.RiskConfig{
		AccountBalance:       10000,
		RiskPerTrade:         0.01,
		MaxDailyLossPct:      0.02,
		MaxConcurrentSignals: 2,
	}
}

func candidate(entry, sl float64) types.CandidateSignal {
	return types.CandidateSignal{
		Strategy:   "trend_continuation",
		Symbol:     types.DefaultSymbol,
		Timeframe:  types.TimeframeH1,
		Direction:  types.DirectionBuy,
		EntryPrice: decimal.NewFromFloat(entry),
		StopLoss:   decimal.NewFromFloat(sl),
		Timestamp:  time.Now(),
	}
}

func TestCheckApproves(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeBreaker{}, testConfig(), zap.NewNop())

	results, err := m.Check(context.Background(), []types.CandidateSignal{candidate(2650, 2645)}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Approved)
	// 100 risk / 5 distance * 1.0 factor.
	assert.InDelta(t, 20.0, results[0].PositionSize, 1e-9)
	// 10000 balance * 0.01 per trade.
	assert.InDelta(t, 100.0, results[0].RiskAmount, 1e-9)
	assert.Zero(t, results[0].DailyPnlPips)
}

func TestCheckCircuitBreakerRejectsAll(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeBreaker{active: true}, testConfig(), zap.NewNop())

	candidates := []types.CandidateSignal{candidate(2650, 2645), candidate(2660, 2665)}
	results, err := m.Check(context.Background(), candidates, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.False(t, r.Approved)
		assert.Contains(t, r.Reason, "circuit breaker")
	}
}

func TestCheckDailyLossLimit(t *testing.T) {
	// -2100 pips at $0.10/pip is -$210, past 2% of a $10k account.
	store := &fakeStore{dailyPips: -2100}
	m := NewManager(store, &fakeBreaker{}, testConfig(), zap.NewNop())

	results, err := m.Check(context.Background(), []types.CandidateSignal{candidate(2650, 2645)}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Approved)
	assert.Contains(t, results[0].Reason, "daily loss limit")
	assert.InDelta(t, -2100.0, results[0].DailyPnlPips, 1e-9)
}

func TestCheckDailyLossWithinLimit(t *testing.T) {
	store := &fakeStore{dailyPips: -500}
	m := NewManager(store, &fakeBreaker{}, testConfig(), zap.NewNop())

	results, err := m.Check(context.Background(), []types.CandidateSignal{candidate(2650, 2645)}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Approved)
	assert.InDelta(t, -500.0, results[0].DailyPnlPips, 1e-9)
}

func TestCheckConcurrentLimit(t *testing.T) {
	store := &fakeStore{activeCount: 2}
	m := NewManager(store, &fakeBreaker{}, testConfig(), zap.NewNop())

	results, err := m.Check(context.Background(), []types.CandidateSignal{candidate(2650, 2645)}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Approved)
	assert.Contains(t, results[0].Reason, "concurrent signal limit")
}

func TestPositionSizeATRAdjustment(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeBreaker{}, testConfig(), zap.NewNop())

	// Calm market: baseline/current = 2.0, clamped to 1.5.
	assert.InDelta(t, 30.0, m.PositionSize(5.0, 1.0, 2.0), 1e-9)
	// Volatile market: factor 0.25, clamped to 0.5.
	assert.InDelta(t, 10.0, m.PositionSize(5.0, 4.0, 1.0), 1e-9)
	// Within bounds: factor used as-is.
	assert.InDelta(t, 25.0, m.PositionSize(5.0, 0.8, 1.0), 1e-9)
}

func TestPositionSizeInvalidInputs(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeBreaker{}, testConfig(), zap.NewNop())

	assert.Equal(t, minPositionSize, m.PositionSize(0, 1.0, 1.0))
	assert.Equal(t, minPositionSize, m.PositionSize(5.0, 0, 1.0))
	assert.Equal(t, minPositionSize, m.PositionSize(5.0, 1.0, -1))
}

func TestCheckEmptyCandidates(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeBreaker{}, testConfig(), zap.NewNop())

	results, err := m.Check(context.Background(), nil, 1.0, 1.0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
