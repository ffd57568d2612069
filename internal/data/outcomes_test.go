package data

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

type fakePrices struct {
	price float64
}

func (f *fakePrices) CurrentPrice(_ context.Context, symbol string) (types.PriceQuote, error) {
	return types.PriceQuote{Symbol: symbol, Price: f.price, FetchedAt: time.Now()}, nil
}

func newTestDetector(t *testing.T, store *Store, price float64, now time.Time) *OutcomeDetector {
	t.Helper()
	tracker := NewTracker(store, zap.NewNop())
	tracker.now = func() time.Time { return now }
	d := NewOutcomeDetector(store, &fakePrices{price: price}, tracker, zap.NewNop())
	d.now = func() time.Time { return now }
	return d
}

func TestCheckActiveBuyTP2(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// Monday 10:00 UTC, inside London: spread 0.30.
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := created.Add(2 * time.Hour)

	sig := testSignal("trend_continuation", types.DirectionBuy, created)
	require.NoError(t, store.InsertSignal(ctx, sig))

	d := newTestDetector(t, store, 2421.00, now)
	resolved, err := d.CheckActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	results, err := store.OutcomeResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.ResultTP2Hit, results[0])

	active, err := store.ActiveSignalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	// Entry 2400, exit 2421, pip value 0.10 => +210 pips.
	pips, err := store.OutcomePnlPips(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 210.0, pips[0], 1e-9)

	// The tracker refreshed live performance rows.
	perf, err := store.LatestPerformance(ctx, "trend_continuation", "30d")
	require.NoError(t, err)
	require.NotNil(t, perf)
	assert.Equal(t, 1, perf.TotalSignals)
	assert.Equal(t, 1.0, perf.WinRate)
}

func TestCheckActiveSellUsesAsk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)

	sig := testSignal("trend_continuation", types.DirectionSell, created)
	sig.StopLoss = decimal.NewFromFloat(2405.00)
	sig.TakeProfit1 = decimal.NewFromFloat(2390.00)
	sig.TakeProfit2 = decimal.NewFromFloat(2380.00)
	require.NoError(t, store.InsertSignal(ctx, sig))

	// Bid 2404.80; London spread 0.30 puts the ask at 2405.10, through
	// the stop.
	d := newTestDetector(t, store, 2404.80, now)
	resolved, err := d.CheckActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	results, err := store.OutcomeResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ResultSLHit, results[0])

	// SELL pnl: entry 2400, exit 2405.10 => -51 pips.
	pips, err := store.OutcomePnlPips(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -51.0, pips[0], 1e-9)
}

func TestCheckActiveExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	// Past the 8 hour H1 expiry, price between levels.
	now := created.Add(9 * time.Hour)

	sig := testSignal("trend_continuation", types.DirectionBuy, created)
	require.NoError(t, store.InsertSignal(ctx, sig))

	d := newTestDetector(t, store, 2403.00, now)
	resolved, err := d.CheckActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	results, err := store.OutcomeResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ResultExpired, results[0])

	active, err := store.ActiveSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	recent, err := store.RecentSignals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.SignalStatusExpired, recent[0].Status)
}

func TestCheckActiveHoldsOpenSignal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)

	sig := testSignal("trend_continuation", types.DirectionBuy, created)
	require.NoError(t, store.InsertSignal(ctx, sig))

	// Between SL and TP1: nothing resolves.
	d := newTestDetector(t, store, 2402.00, now)
	resolved, err := d.CheckActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	active, err := store.ActiveSignalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestCheckActiveOutcomeCallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	sig := testSignal("trend_continuation", types.DirectionBuy, created)
	require.NoError(t, store.InsertSignal(ctx, sig))

	d := newTestDetector(t, store, 2411.00, created.Add(time.Hour))
	var gotSignal types.Signal
	var gotOutcome types.Outcome
	d.OnOutcome = func(s types.Signal, o types.Outcome) {
		gotSignal = s
		gotOutcome = o
	}

	_, err := d.CheckActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, sig.ID, gotSignal.ID)
	assert.Equal(t, types.ResultTP1Hit, gotOutcome.Result)
	assert.Equal(t, 60, gotOutcome.DurationMinutes)
}

func TestTrackerAggregation(t *testing.T) {
	perf := aggregate("trend_continuation", "30d", []StrategyOutcome{
		{Result: types.ResultTP1Hit, PnlPips: 100, RiskReward: 2.0},
		{Result: types.ResultTP2Hit, PnlPips: 200, RiskReward: 3.0},
		{Result: types.ResultSLHit, PnlPips: -150, RiskReward: 2.0},
		{Result: types.ResultExpired, PnlPips: -10, RiskReward: 1.0},
	})

	assert.Equal(t, 4, perf.TotalSignals)
	assert.InDelta(t, 0.5, perf.WinRate, 1e-9)
	assert.InDelta(t, 300.0/160.0, perf.ProfitFactor, 1e-4)
	assert.InDelta(t, 2.0, perf.AvgRR, 1e-9)
}

func TestTrackerAggregationEmpty(t *testing.T) {
	perf := aggregate("trend_continuation", "7d", nil)
	assert.Equal(t, 0, perf.TotalSignals)
	assert.Zero(t, perf.WinRate)
	assert.Zero(t, perf.ProfitFactor)
}

func TestRetentionPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	old := now.AddDate(0, 0, -40)
	m15 := types.Candle{
		Symbol: types.DefaultSymbol, Timeframe: types.TimeframeM15,
		Timestamp: old, Open: 2400, High: 2401, Low: 2399, Close: 2400,
	}
	d1 := types.Candle{
		Symbol: types.DefaultSymbol, Timeframe: types.TimeframeD1,
		Timestamp: now.AddDate(-1, 0, 0), Open: 2000, High: 2010, Low: 1990, Close: 2005,
	}
	_, err := store.UpsertCandles(ctx, []types.Candle{m15, d1, h1Candle(now.Add(-time.Hour), 2400)})
	require.NoError(t, err)

	staleSig := testSignal("trend_continuation", types.DirectionBuy, now.AddDate(0, 0, -100))
	staleSig.Status = types.SignalStatusExpired
	require.NoError(t, store.InsertSignal(ctx, staleSig))

	ret := NewRetention(store, []string{types.DefaultSymbol}, zap.NewNop())
	ret.now = func() time.Time { return now }

	deleted, err := ret.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	// M15 beyond 30 days went; the D1 candle is kept forever.
	m15Count, err := store.CandleCount(ctx, types.DefaultSymbol, types.TimeframeM15)
	require.NoError(t, err)
	assert.Equal(t, 0, m15Count)

	d1Count, err := store.CandleCount(ctx, types.DefaultSymbol, types.TimeframeD1)
	require.NoError(t, err)
	assert.Equal(t, 1, d1Count)

	signals, err := store.RecentSignals(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
