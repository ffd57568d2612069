package strategy

import (
	"math"

	"github.com/goldsight/trading-backend/pkg/types"
)

// Indicator series are float64 slices aligned to the input candles, with
// NaN for warmup positions.

// EMA computes an exponential moving average seeded with the SMA of the
// first length values.
func EMA(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) < length {
		return out
	}

	var sum float64
	for i := 0; i < length; i++ {
		sum += values[i]
	}
	prev := sum / float64(length)
	out[length-1] = prev

	alpha := 2.0 / (float64(length) + 1.0)
	for i := length; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// SMA computes a simple moving average.
func SMA(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) < length {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= length {
			sum -= values[i-length]
		}
		if i >= length-1 {
			out[i] = sum / float64(length)
		}
	}
	return out
}

// ATR computes the Average True Range with Wilder smoothing.
func ATR(highs, lows, closes []float64, length int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if length <= 0 || n < length+1 {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for i := 1; i <= length; i++ {
		sum += tr[i]
	}
	prev := sum / float64(length)
	out[length] = prev

	for i := length + 1; i < n; i++ {
		prev = (prev*float64(length-1) + tr[i]) / float64(length)
		out[i] = prev
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing.
func RSI(values []float64, length int) []float64 {
	n := len(values)
	out := nanSlice(n)
	if length <= 0 || n < length+1 {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= length; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(length)
	avgLoss := lossSum / float64(length)
	out[length] = rsiValue(avgGain, avgLoss)

	for i := length + 1; i < n; i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(length-1) + gain) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + loss) / float64(length)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// VWAP computes a daily-anchored volume-weighted average price. The
// cumulative sums reset at each UTC day boundary. If volume is missing
// or entirely zero the result is all NaN.
func VWAP(candles []types.Candle) []float64 {
	out := nanSlice(len(candles))

	hasVolume := false
	for _, c := range candles {
		if c.Volume > 0 {
			hasVolume = true
			break
		}
	}
	if !hasVolume {
		return out
	}

	var cumPV, cumVol float64
	var day int
	for i, c := range candles {
		d := c.Timestamp.UTC().YearDay() + c.Timestamp.UTC().Year()*1000
		if i == 0 || d != day {
			day = d
			cumPV, cumVol = 0, 0
		}
		typical := (c.High + c.Low + c.Close) / 3.0
		cumPV += typical * c.Volume
		cumVol += c.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		}
	}
	return out
}

// SwingHighs returns indices where the high is >= the highs of the
// surrounding order bars on each side.
func SwingHighs(highs []float64, order int) []int {
	var out []int
	for i := order; i < len(highs)-order; i++ {
		isSwing := true
		for j := i - order; j <= i+order; j++ {
			if highs[j] > highs[i] {
				isSwing = false
				break
			}
		}
		if isSwing {
			out = append(out, i)
		}
	}
	return out
}

// SwingLows returns indices where the low is <= the lows of the
// surrounding order bars on each side.
func SwingLows(lows []float64, order int) []int {
	var out []int
	for i := order; i < len(lows)-order; i++ {
		isSwing := true
		for j := i - order; j <= i+order; j++ {
			if lows[j] < lows[i] {
				isSwing = false
				break
			}
		}
		if isSwing {
			out = append(out, i)
		}
	}
	return out
}

// Closes extracts the close column from a candle series.
func Closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high column from a candle series.
func Highs(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low column from a candle series.
func Lows(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
