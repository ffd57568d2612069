package backtester

import (
	"math"

	"github.com/goldsight/trading-backend/pkg/types"
)

// MaxBarsForward caps how long a simulated trade is held before it
// expires (72 H1 bars = 3 days).
const MaxBarsForward = 72

// Simulator walks candidate signals forward through OHLC bars to
// determine their outcome. The stop loss always takes priority over
// take-profits when both could trigger within the same bar.
type Simulator struct {
	spreads *SpreadModel
}

// NewSimulator returns a trade simulator using the given spread model.
func NewSimulator(spreads *SpreadModel) *Simulator {
	return &Simulator{spreads: spreads}
}

// SimulateTrade walks a single signal through the candles following
// signalBarIdx. Entry is adjusted for spread on the buy side; sell-side
// stops are tested against the ask (high + spread).
func (s *Simulator) SimulateTrade(sig types.CandidateSignal, candles []types.Candle, signalBarIdx int, spread float64) types.SimulatedTrade {
	entry, _ := sig.EntryPrice.Float64()
	sl, _ := sig.StopLoss.Float64()
	tp1, _ := sig.TakeProfit1.Float64()
	tp2, _ := sig.TakeProfit2.Float64()
	isBuy := sig.Direction == types.DirectionBuy

	adjustedEntry := entry
	if isBuy {
		adjustedEntry = entry + spread
	}

	startIdx := signalBarIdx + 1
	endIdx := signalBarIdx + 1 + MaxBarsForward
	if endIdx > len(candles) {
		endIdx = len(candles)
	}

	finish := func(result types.TradeResult, exitPrice float64, barsHeld, exitIdx int) types.SimulatedTrade {
		pnl := exitPrice - adjustedEntry
		if !isBuy {
			pnl = adjustedEntry - exitPrice
		}
		trade := types.SimulatedTrade{
			Direction:  sig.Direction,
			EntryPrice: round2(adjustedEntry),
			ExitPrice:  round2(exitPrice),
			Result:     result,
			PnlPips:    round2(pnl / types.PipValue),
			SpreadCost: spread,
			BarsHeld:   barsHeld,
			EntryTime:  sig.Timestamp,
		}
		if exitIdx >= 0 && exitIdx < len(candles) {
			trade.ExitTime = candles[exitIdx].Timestamp
		}
		return trade
	}

	for i := startIdx; i < endIdx; i++ {
		bar := candles[i]
		barsHeld := i - signalBarIdx

		var slHit bool
		if isBuy {
			slHit = bar.Low <= sl
		} else {
			slHit = bar.High+spread >= sl
		}
		if slHit {
			return finish(types.ResultSLHit, sl, barsHeld, i)
		}

		// TP2 before TP1 so a bar that jumps past both records the
		// larger target.
		if (isBuy && bar.High >= tp2) || (!isBuy && bar.Low <= tp2) {
			return finish(types.ResultTP2Hit, tp2, barsHeld, i)
		}
		if (isBuy && bar.High >= tp1) || (!isBuy && bar.Low <= tp1) {
			return finish(types.ResultTP1Hit, tp1, barsHeld, i)
		}
	}

	// Expired within the horizon: exit at the last available close.
	lastIdx := endIdx - 1
	if lastIdx < startIdx {
		return finish(types.ResultExpired, adjustedEntry, 0, -1)
	}
	return finish(types.ResultExpired, candles[lastIdx].Close, lastIdx-signalBarIdx, lastIdx)
}

// SimulateSignals simulates a batch of (signal, bar index) pairs,
// pulling the spread for each signal's timestamp from the spread model.
func (s *Simulator) SimulateSignals(sigs []types.CandidateSignal, barIdx []int, candles []types.Candle) []types.SimulatedTrade {
	trades := make([]types.SimulatedTrade, 0, len(sigs))
	for i, sig := range sigs {
		spread := s.spreads.Spread(sig.Timestamp)
		trades = append(trades, s.SimulateTrade(sig, candles, barIdx[i], spread))
	}
	return trades
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
