package data

import (
	"fmt"
	"sort"

	"github.com/goldsight/trading-backend/pkg/types"
)

// CandleIssue describes a problem found in a fetched candle batch.
type CandleIssue struct {
	Index   int
	Message string
}

// ValidateCandles checks a fetched batch for malformed bars: OHLC
// inconsistency, non-positive prices, duplicate timestamps, and zero
// timestamps. It returns the clean candles sorted ascending and the
// issues found; offending bars are dropped.
func ValidateCandles(candles []types.Candle) ([]types.Candle, []CandleIssue) {
	var issues []CandleIssue
	clean := make([]types.Candle, 0, len(candles))
	seen := make(map[int64]bool, len(candles))

	for i, c := range candles {
		switch {
		case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
			issues = append(issues, CandleIssue{i, "non-positive price"})
			continue
		case c.High < c.Low:
			issues = append(issues, CandleIssue{i, "high below low"})
			continue
		case c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close:
			issues = append(issues, CandleIssue{i, "open/close outside high-low range"})
			continue
		case c.Timestamp.IsZero():
			issues = append(issues, CandleIssue{i, "zero timestamp"})
			continue
		}
		key := c.Timestamp.Unix()
		if seen[key] {
			issues = append(issues, CandleIssue{i, fmt.Sprintf("duplicate timestamp %s", c.Timestamp)})
			continue
		}
		seen[key] = true
		clean = append(clean, c)
	}

	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Timestamp.Before(clean[j].Timestamp)
	})
	return clean, issues
}
