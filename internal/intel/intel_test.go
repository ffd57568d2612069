package intel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/strategy"
	"github.com/goldsight/trading-backend/pkg/types"
)

type fakeStore struct {
	candles map[string][]types.Candle
	err     error
}

func (f *fakeStore) RecentCandles(_ context.Context, symbol string, _ types.Timeframe, _ int) ([]types.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candles[symbol], nil
}

// dailySeries builds n D1 candles ending 2026-03-31 whose closes are
// produced by fn(i) for i in ascending date order.
func dailySeries(n int, fn func(i int) float64) []types.Candle {
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		c := fn(i)
		candles[i] = types.Candle{
			Symbol:    types.DefaultSymbol,
			Timeframe: types.TimeframeD1,
			Timestamp: end.AddDate(0, 0, i-n+1),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		}
	}
	return candles
}

func withSymbol(candles []types.Candle, symbol string) []types.Candle {
	out := make([]types.Candle, len(candles))
	for i, c := range candles {
		c.Symbol = symbol
		out[i] = c
	}
	return out
}

func candidate(confidence float64) types.CandidateSignal {
	return types.CandidateSignal{
		Strategy:   strategy.TrendContinuationName,
		Symbol:     types.DefaultSymbol,
		Timeframe:  types.TimeframeH1,
		Direction:  types.DirectionBuy,
		Confidence: decimal.NewFromFloat(confidence),
		Reasoning:  "EMA pullback",
	}
}

func intelAt(store Store, now time.Time) *Intelligence {
	g := New(store, zap.NewNop())
	g.now = func() time.Time { return now }
	return g
}

func TestSessionInfoOverlap(t *testing.T) {
	g := intelAt(&fakeStore{}, time.Time{})

	info := g.SessionInfo(time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC))
	assert.True(t, info.IsOverlap)
	assert.Contains(t, info.ActiveSessions, strategy.SessionLondon)
	assert.Contains(t, info.ActiveSessions, strategy.SessionNewYork)

	night := g.SessionInfo(time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC))
	assert.False(t, night.IsOverlap)
	assert.Equal(t, []string{strategy.SessionAsian}, night.ActiveSessions)
}

func TestEnrichOverlapBoost(t *testing.T) {
	overlap := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)
	g := intelAt(&fakeStore{}, overlap)

	out := g.Enrich([]types.CandidateSignal{candidate(70)}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "75", out[0].Confidence.String())
	assert.Equal(t, strategy.SessionOverlap, out[0].Session)
	assert.Contains(t, out[0].Reasoning, "London/NY overlap: +5 confidence")
}

func TestEnrichBoostCappedAt100(t *testing.T) {
	overlap := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)
	g := intelAt(&fakeStore{}, overlap)

	out := g.Enrich([]types.CandidateSignal{candidate(98)}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "100", out[0].Confidence.String())
}

func TestEnrichOffHours(t *testing.T) {
	// 22:00 UTC: no session active.
	offHours := time.Date(2026, 1, 5, 22, 0, 0, 0, time.UTC)
	g := intelAt(&fakeStore{}, offHours)

	out := g.Enrich([]types.CandidateSignal{candidate(70)}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "off_hours", out[0].Session)
	assert.Equal(t, "70", out[0].Confidence.String())
	assert.Equal(t, "EMA pullback", out[0].Reasoning)
}

func TestEnrichDXYDivergenceNote(t *testing.T) {
	night := time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)
	g := intelAt(&fakeStore{}, night)

	dxy := &DXYCorrelation{Correlation: 0.12, IsDivergent: true, Available: true}
	out := g.Enrich([]types.CandidateSignal{candidate(70)}, dxy)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Reasoning, "DXY divergence detected (corr=0.12)")
	// The note is informational only.
	assert.Equal(t, "70", out[0].Confidence.String())
}

func TestDXYCorrelationInverse(t *testing.T) {
	gold := dailySeries(60, func(i int) float64 { return 2400 + float64(i) })
	dxy := withSymbol(dailySeries(60, func(i int) float64 { return 110 - float64(i)*0.1 }), DXYSymbol)

	store := &fakeStore{candles: map[string][]types.Candle{
		types.DefaultSymbol: gold,
		DXYSymbol:           dxy,
	}}
	g := intelAt(store, time.Time{})

	result := g.DXYCorrelation(context.Background())
	require.True(t, result.Available)
	assert.InDelta(t, -1.0, result.Correlation, 1e-9)
	assert.False(t, result.IsDivergent)
	assert.Contains(t, result.Message, "normal inverse")
}

func TestDXYCorrelationDivergent(t *testing.T) {
	// Gold and DXY rising together: strongly positive correlation.
	gold := dailySeries(60, func(i int) float64 { return 2400 + float64(i) })
	dxy := withSymbol(dailySeries(60, func(i int) float64 { return 100 + float64(i)*0.2 }), DXYSymbol)

	store := &fakeStore{candles: map[string][]types.Candle{
		types.DefaultSymbol: gold,
		DXYSymbol:           dxy,
	}}
	g := intelAt(store, time.Time{})

	result := g.DXYCorrelation(context.Background())
	require.True(t, result.Available)
	assert.True(t, result.IsDivergent)
	assert.Contains(t, result.Message, "DIVERGENT")
}

func TestDXYCorrelationUnavailableOnThinData(t *testing.T) {
	store := &fakeStore{candles: map[string][]types.Candle{
		types.DefaultSymbol: dailySeries(60, func(i int) float64 { return 2400 + float64(i) }),
		DXYSymbol:           withSymbol(dailySeries(20, func(i int) float64 { return 110 - float64(i) }), DXYSymbol),
	}}
	g := intelAt(store, time.Time{})

	result := g.DXYCorrelation(context.Background())
	assert.False(t, result.Available)
	assert.Equal(t, "DXY data unavailable", result.Message)
}

func TestDXYCorrelationUnavailableOnStoreError(t *testing.T) {
	g := intelAt(&fakeStore{err: errors.New("db closed")}, time.Time{})

	result := g.DXYCorrelation(context.Background())
	assert.False(t, result.Available)
}

func TestDXYCorrelationFlatSeriesUndefined(t *testing.T) {
	store := &fakeStore{candles: map[string][]types.Candle{
		types.DefaultSymbol: dailySeries(60, func(i int) float64 { return 2400 }),
		DXYSymbol:           withSymbol(dailySeries(60, func(i int) float64 { return 110 - float64(i) }), DXYSymbol),
	}}
	g := intelAt(store, time.Time{})

	result := g.DXYCorrelation(context.Background())
	assert.False(t, result.Available)
}

func TestAlignByDate(t *testing.T) {
	gold := dailySeries(10, func(i int) float64 { return float64(i) })
	// DXY misses the last three days.
	dxy := withSymbol(dailySeries(7, func(i int) float64 { return float64(100 + i) }), DXYSymbol)

	gc, dc := alignByDate(gold, dxy)
	require.Len(t, gc, 7)
	require.Len(t, dc, 7)
	// dailySeries anchors series to the same end date, so the 7 DXY days
	// line up with the last 7 gold days.
	assert.Equal(t, 3.0, gc[0])
	assert.Equal(t, 100.0, dc[0])
}

func TestSessionVolatilityProfile(t *testing.T) {
	g := intelAt(&fakeStore{}, time.Time{})
	assert.Contains(t, g.SessionVolatilityProfile("overlap"), "Very high volatility")
	assert.Equal(t, fmt.Sprintf("Unknown session %q", "tokyo"), g.SessionVolatilityProfile("tokyo"))
}
