package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	// backfillBars is the fetch size when a series is empty.
	backfillBars = 500
	// incrementalBars caps the fetch size for catch-up pulls.
	incrementalBars = 200
	// gapScanWindow is how far back gap detection looks.
	gapScanWindow = 7 * 24 * time.Hour
)

// Fetcher fetches candles from the market data provider.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, timeframe types.Timeframe, startDate time.Time, outputSize int) ([]types.Candle, error)
}

// Ingestor keeps the candle tables current: incremental fetch from the
// latest stored bar, upsert dedup, and gap reporting.
type Ingestor struct {
	store   *Store
	fetcher Fetcher
	now     func() time.Time
	logger  *zap.Logger
}

// NewIngestor creates a candle ingestor.
func NewIngestor(store *Store, fetcher Fetcher, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
		logger:  logger.Named("ingestor"),
	}
}

// Refresh pulls new candles for a symbol and timeframe. An empty series
// triggers a full backfill; otherwise the fetch starts one interval
// after the latest stored bar. Returns the number of rows written.
func (g *Ingestor) Refresh(ctx context.Context, symbol string, timeframe types.Timeframe) (int, error) {
	latest, err := g.store.LatestCandleTime(ctx, symbol, timeframe)
	if err != nil {
		return 0, err
	}

	var start time.Time
	size := backfillBars
	if !latest.IsZero() {
		start = latest.Add(timeframe.Interval())
		size = incrementalBars
		if !start.Before(g.now().UTC()) {
			return 0, nil
		}
	}

	candles, err := g.fetcher.FetchCandles(ctx, symbol, timeframe, start, size)
	if err != nil {
		return 0, fmt.Errorf("fetching %s %s candles: %w", symbol, timeframe, err)
	}
	candles, issues := ValidateCandles(candles)
	for _, issue := range issues {
		g.logger.Warn("dropping malformed candle",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)),
			zap.Int("index", issue.Index),
			zap.String("reason", issue.Message))
	}
	if len(candles) == 0 {
		return 0, nil
	}

	n, err := g.store.UpsertCandles(ctx, candles)
	if err != nil {
		return 0, err
	}

	g.logger.Info("candles refreshed",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("written", n),
		zap.Time("newest", candles[len(candles)-1].Timestamp))

	if gaps := g.DetectGaps(ctx, symbol, timeframe); len(gaps) > 0 {
		g.logger.Warn("gaps detected in candle series",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)),
			zap.Int("gaps", len(gaps)),
			zap.Time("firstGap", gaps[0]))
	}
	return n, nil
}

// DetectGaps returns expected-but-missing bar timestamps over the
// trailing seven days, skipping the weekend market close.
func (g *Ingestor) DetectGaps(ctx context.Context, symbol string, timeframe types.Timeframe) []time.Time {
	since := g.now().UTC().Add(-gapScanWindow)
	candles, err := g.store.CandlesSince(ctx, symbol, timeframe, since)
	if err != nil {
		g.logger.Warn("gap scan query failed", zap.Error(err))
		return nil
	}
	if len(candles) < 2 {
		return nil
	}

	interval := timeframe.Interval()
	var gaps []time.Time
	for i := 1; i < len(candles); i++ {
		expected := candles[i-1].Timestamp.Add(interval)
		for expected.Before(candles[i].Timestamp) {
			if !marketClosed(expected) {
				gaps = append(gaps, expected)
			}
			expected = expected.Add(interval)
		}
	}
	return gaps
}

// marketClosed reports whether the gold market is closed at ts.
// The market closes Friday 22:00 UTC and reopens Sunday 22:00 UTC.
func marketClosed(ts time.Time) bool {
	ts = ts.UTC()
	switch ts.Weekday() {
	case time.Saturday:
		return true
	case time.Friday:
		return ts.Hour() >= 22
	case time.Sunday:
		return ts.Hour() < 22
	}
	return false
}
