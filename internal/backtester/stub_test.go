package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/goldsight/trading-backend/pkg/types"
)

// scriptedStrategy emits one BUY signal at the last bar of every
// window, with fixed 5-dollar stop and targets around the close.
type scriptedStrategy struct{}

func (s *scriptedStrategy) Name() string               { return "scripted" }
func (s *scriptedStrategy) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *scriptedStrategy) MinCandles() int            { return 10 }
func (s *scriptedStrategy) Params() map[string]float64 { return nil }

func (s *scriptedStrategy) Analyze(candles []types.Candle) ([]types.CandidateSignal, error) {
	last := candles[len(candles)-1]
	entry := last.Close
	return []types.CandidateSignal{{
		Strategy:    s.Name(),
		Symbol:      types.DefaultSymbol,
		Timeframe:   types.TimeframeH1,
		Direction:   types.DirectionBuy,
		EntryPrice:  decimal.NewFromFloat(entry),
		StopLoss:    decimal.NewFromFloat(entry - 5),
		TakeProfit1: decimal.NewFromFloat(entry + 5),
		TakeProfit2: decimal.NewFromFloat(entry + 10),
		RiskReward:  decimal.NewFromInt(1),
		Confidence:  decimal.NewFromInt(70),
		Timestamp:   last.Timestamp,
	}}, nil
}

// silentStrategy never emits signals.
type silentStrategy struct{}

func (s *silentStrategy) Name() string               { return "silent" }
func (s *silentStrategy) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *silentStrategy) MinCandles() int            { return 10 }
func (s *silentStrategy) Params() map[string]float64 { return nil }

func (s *silentStrategy) Analyze([]types.Candle) ([]types.CandidateSignal, error) {
	return nil, nil
}
