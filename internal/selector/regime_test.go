package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// rangeCandles builds count H1 candles whose high-low range is given by
// span(i), around a flat price.
func rangeCandles(count int, span func(i int) float64) []types.Candle {
	ts := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, count)
	for i := 0; i < count; i++ {
		half := span(i) / 2
		candles[i] = types.Candle{
			Symbol:    types.DefaultSymbol,
			Timeframe: types.TimeframeH1,
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      2600,
			High:      2600 + half,
			Low:       2600 - half,
			Close:     2600,
			Volume:    1000,
		}
	}
	return candles
}

func regimeStore(candles []types.Candle) *fakeStore {
	return &fakeStore{candles: map[types.Timeframe][]types.Candle{types.TimeframeH1: candles}}
}

func TestDetectRegimeLow(t *testing.T) {
	// Wide ranges for most of the month, then a quiet tail.
	candles := rangeCandles(720, func(i int) float64 {
		if i < 620 {
			return 20.0
		}
		return 1.0
	})
	det := NewATRRegimeDetector(regimeStore(candles), zap.NewNop())

	regime, err := det.DetectRegime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RegimeLow, regime)
}

func TestDetectRegimeHigh(t *testing.T) {
	candles := rangeCandles(720, func(i int) float64 {
		if i < 620 {
			return 1.0
		}
		return 20.0
	})
	det := NewATRRegimeDetector(regimeStore(candles), zap.NewNop())

	regime, err := det.DetectRegime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RegimeHigh, regime)
}

func TestDetectRegimeConstantVolatilityIsLow(t *testing.T) {
	candles := rangeCandles(720, func(int) float64 { return 5.0 })
	det := NewATRRegimeDetector(regimeStore(candles), zap.NewNop())

	regime, err := det.DetectRegime(context.Background())
	require.NoError(t, err)
	// A constant ATR series ranks the current value at the 0th
	// percentile under strict comparison.
	assert.Equal(t, types.RegimeLow, regime)
}

func TestDetectRegimeInsufficientData(t *testing.T) {
	candles := rangeCandles(10, func(int) float64 { return 5.0 })
	det := NewATRRegimeDetector(regimeStore(candles), zap.NewNop())

	regime, err := det.DetectRegime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RegimeMedium, regime)
}

func TestCheckH4ConfluenceUptrend(t *testing.T) {
	ts := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, 250)
	price := 2000.0
	for i := range candles {
		candles[i] = types.Candle{
			Symbol:    types.DefaultSymbol,
			Timeframe: types.TimeframeH4,
			Timestamp: ts.Add(time.Duration(i*4) * time.Hour),
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    1000,
		}
		price += 2
	}
	store := &fakeStore{candles: map[types.Timeframe][]types.Candle{types.TimeframeH4: candles}}
	sel := New(store, testRegistry(t), fixedRegime{types.RegimeMedium}, DefaultConfig(), zap.NewNop())

	buy, err := sel.CheckH4Confluence(context.Background(), types.DirectionBuy)
	require.NoError(t, err)
	assert.True(t, buy)

	sell, err := sel.CheckH4Confluence(context.Background(), types.DirectionSell)
	require.NoError(t, err)
	assert.False(t, sell)
}

func TestCheckH4ConfluenceInsufficientData(t *testing.T) {
	store := &fakeStore{candles: map[types.Timeframe][]types.Candle{}}
	sel := New(store, testRegistry(t), fixedRegime{types.RegimeMedium}, DefaultConfig(), zap.NewNop())

	ok, err := sel.CheckH4Confluence(context.Background(), types.DirectionBuy)
	require.NoError(t, err)
	assert.False(t, ok)
}
