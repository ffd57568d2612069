package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

// BreakoutExpansionName identifies the consolidation breakout strategy.
const BreakoutExpansionName = "breakout_expansion"

var breakoutExpansionDefaults = map[string]float64{
	"ATR_LENGTH":          14,
	"ATR_MA_LENGTH":       50,
	"ATR_COMPRESSION":     0.5,
	"MIN_CONSOL_BARS":     10,
	"VOLUME_MULT":         1.5,
	"WIDE_RANGE_ATR_MULT": 3.0,
	"BREAKOUT_BODY_ATR":   1.5,
	"BASE_CONFIDENCE":     50,
	"LONDON_OPEN_START":   7,
	"LONDON_OPEN_END":     9,
}

// BreakoutExpansion detects consolidation-range breakouts on XAUUSD H1.
//
// A setup occurs when volatility contracts (ATR below a fraction of its
// own moving average) for a minimum number of bars, establishing a
// consolidation range, and price then breaks decisively beyond that
// range. Volume expansion on the breakout bar adds confidence.
type BreakoutExpansion struct {
	params map[string]float64
	logger *zap.Logger
}

// NewBreakoutExpansion builds the strategy with parameter overrides.
func NewBreakoutExpansion(params map[string]float64, logger *zap.Logger) Strategy {
	return &BreakoutExpansion{
		params: mergeParams(breakoutExpansionDefaults, params),
		logger: logger.Named(BreakoutExpansionName),
	}
}

func (s *BreakoutExpansion) Name() string               { return BreakoutExpansionName }
func (s *BreakoutExpansion) Timeframe() types.Timeframe { return types.TimeframeH1 }
func (s *BreakoutExpansion) MinCandles() int            { return 70 }
func (s *BreakoutExpansion) Params() map[string]float64 { return s.params }

// Analyze scans candles for consolidation breakout setups.
func (s *BreakoutExpansion) Analyze(candles []types.Candle) ([]types.CandidateSignal, error) {
	if err := validateCandles(candles, s.MinCandles()); err != nil {
		return nil, err
	}

	closes := Closes(candles)
	highs := Highs(candles)
	lows := Lows(candles)

	atr := ATR(highs, lows, closes, int(s.params["ATR_LENGTH"]))
	atrMA := SMA(noNaN(atr), int(s.params["ATR_MA_LENGTH"]))

	hasVolume := false
	for _, c := range candles {
		if c.Volume > 0 {
			hasVolume = true
			break
		}
	}

	n := len(candles)
	var signals []types.CandidateSignal

	consolStart := -1
	inConsolidation := false

	for i := s.MinCandles(); i < n; i++ {
		atrVal := atr[i]
		atrMAVal := atrMA[i]
		if math.IsNaN(atrVal) || math.IsNaN(atrMAVal) || atrMAVal <= 0 {
			consolStart = -1
			inConsolidation = false
			continue
		}

		if atrVal < s.params["ATR_COMPRESSION"]*atrMAVal {
			if consolStart < 0 {
				consolStart = i
			}
			inConsolidation = true
			continue
		}

		// Bar is not compressed: check whether a consolidation just ended.
		if inConsolidation && consolStart >= 0 {
			consolLength := i - consolStart
			if consolLength >= int(s.params["MIN_CONSOL_BARS"]) {
				if sig := s.checkBreakout(candles, i, consolStart, consolLength, atrVal, hasVolume); sig != nil {
					signals = append(signals, *sig)
				}
			}
		}
		consolStart = -1
		inConsolidation = false
	}
	return signals, nil
}

func (s *BreakoutExpansion) checkBreakout(
	candles []types.Candle,
	i, consolStart, consolLength int,
	atrVal float64,
	hasVolume bool,
) *types.CandidateSignal {
	rangeHigh := math.Inf(-1)
	rangeLow := math.Inf(1)
	for j := consolStart; j < i; j++ {
		rangeHigh = math.Max(rangeHigh, candles[j].High)
		rangeLow = math.Min(rangeLow, candles[j].Low)
	}
	rangeHeight := rangeHigh - rangeLow
	if rangeHeight <= 0 {
		return nil
	}

	closeVal := candles[i].Close
	bullish := closeVal > rangeHigh
	bearish := closeVal < rangeLow
	if !bullish && !bearish {
		return nil
	}

	volumeConfirms := false
	if hasVolume {
		var volSum float64
		for j := consolStart; j < i; j++ {
			volSum += candles[j].Volume
		}
		avgVol := volSum / float64(i-consolStart)
		if avgVol > 0 && candles[i].Volume > s.params["VOLUME_MULT"]*avgVol {
			volumeConfirms = true
		}
	}

	ts := candles[i].Timestamp
	hour := ts.UTC().Hour()
	londonOpen := hour >= int(s.params["LONDON_OPEN_START"]) && hour < int(s.params["LONDON_OPEN_END"])
	candleBody := math.Abs(closeVal - candles[i].Open)

	dir := types.DirectionBuy
	if bearish {
		dir = types.DirectionSell
	}

	// Stop loss at the far side of the range, or the midpoint when the
	// range is too wide relative to ATR.
	var sl float64
	if rangeHeight > s.params["WIDE_RANGE_ATR_MULT"]*atrVal {
		sl = (rangeHigh + rangeLow) / 2.0
	} else if bullish {
		sl = rangeLow
	} else {
		sl = rangeHigh
	}

	riskDist := math.Abs(closeVal - sl)
	if riskDist == 0 {
		riskDist = atrVal
	}

	var tp1, tp2 float64
	if bullish {
		tp1 = closeVal + rangeHeight
		tp2 = closeVal + 2.0*rangeHeight
	} else {
		tp1 = closeVal - rangeHeight
		tp2 = closeVal - 2.0*rangeHeight
	}

	rr := 0.0
	if riskDist > 0 {
		rr = round2(math.Abs(tp1-closeVal) / riskDist)
	}

	confidence := s.confidence(consolLength, candleBody, atrVal, volumeConfirms, londonOpen)

	word := "Bullish"
	if bearish {
		word = "Bearish"
	}
	reasoning := fmt.Sprintf(
		"%s breakout from %d-bar consolidation range (%.2f-%.2f). ATR expansion confirms volatility breakout. Entry at %.2f, SL at %.2f.",
		word, consolLength, rangeLow, rangeHigh, closeVal, sl,
	)

	return &types.CandidateSignal{
		Strategy:    s.Name(),
		Symbol:      types.DefaultSymbol,
		Timeframe:   s.Timeframe(),
		Direction:   dir,
		EntryPrice:  decimalPrice(closeVal),
		StopLoss:    decimalPrice(sl),
		TakeProfit1: decimalPrice(tp1),
		TakeProfit2: decimalPrice(tp2),
		RiskReward:  decimal.NewFromFloat(rr),
		Confidence:  decimal.NewFromFloat(confidence),
		Reasoning:   reasoning,
		Timestamp:   ts,
		Session:     PrimarySession(ts),
	}
}

// confidence is an additive score: base 50, +10 for a long consolidation
// (> 20 bars), +10 for a breakout body above BREAKOUT_BODY_ATR times
// ATR, +10 for volume confirmation, +10 during the London open window.
func (s *BreakoutExpansion) confidence(consolLength int, candleBody, atrVal float64, volumeConfirms, londonOpen bool) float64 {
	score := s.params["BASE_CONFIDENCE"]
	if consolLength > 20 {
		score += 10
	}
	if atrVal > 0 && candleBody > s.params["BREAKOUT_BODY_ATR"]*atrVal {
		score += 10
	}
	if volumeConfirms {
		score += 10
	}
	if londonOpen {
		score += 10
	}
	return math.Min(score, 100)
}

// noNaN replaces NaN entries with 0 so a rolling mean stays defined once
// its window no longer spans the warmup region.
func noNaN(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = 0
		} else {
			out[i] = v
		}
	}
	return out
}
