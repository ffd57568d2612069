package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	maxFetchRetries = 3
	retryBaseDelay  = time.Second

	// priceCacheTTL bounds how stale a cached quote may be when the
	// provider is unreachable.
	priceCacheTTL = 5 * time.Minute
)

// providerIntervals maps timeframes to the provider's interval strings.
var providerIntervals = map[types.Timeframe]string{
	types.TimeframeM15: "15min",
	types.TimeframeH1:  "1h",
	types.TimeframeH4:  "4h",
	types.TimeframeD1:  "1day",
}

// providerSymbols maps internal symbols to the provider's notation.
var providerSymbols = map[string]string{
	types.DefaultSymbol: "XAU/USD",
}

// Client is a Twelve Data REST client. Transient connection failures
// are retried with exponential backoff; HTTP error statuses (including
// rate limits) are not.
type Client struct {
	httpClient *http.Client
	config     types.MarketDataConfig
	logger     *zap.Logger

	mu        sync.RWMutex
	lastQuote map[string]types.PriceQuote
}

// NewClient creates the market data client.
func NewClient(config types.MarketDataConfig, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     config,
		logger:     logger.Named("marketdata"),
		lastQuote:  make(map[string]types.PriceQuote),
	}
}

type timeSeriesResponse struct {
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type priceResponse struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FetchCandles fetches up to outputSize candles for a symbol and
// timeframe, optionally starting at startDate. Candles are returned in
// ascending timestamp order.
func (c *Client) FetchCandles(ctx context.Context, symbol string, timeframe types.Timeframe, startDate time.Time, outputSize int) ([]types.Candle, error) {
	interval, ok := providerIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	params := url.Values{}
	params.Set("symbol", c.apiSymbol(symbol))
	params.Set("interval", interval)
	params.Set("apikey", c.config.APIKey)
	params.Set("outputsize", strconv.Itoa(outputSize))
	params.Set("timezone", "UTC")
	if !startDate.IsZero() {
		params.Set("start_date", startDate.UTC().Format("2006-01-02 15:04:05"))
	}

	body, err := c.get(ctx, "/time_series", params)
	if err != nil {
		return nil, err
	}

	var resp timeSeriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding time series: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("provider error: %s", resp.Message)
	}

	// Provider returns newest-first.
	candles := make([]types.Candle, 0, len(resp.Values))
	for i := len(resp.Values) - 1; i >= 0; i-- {
		v := resp.Values[i]
		ts, err := parseProviderTime(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("parsing candle time %q: %w", v.Datetime, err)
		}
		candle := types.Candle{Symbol: symbol, Timeframe: timeframe, Timestamp: ts}
		if candle.Open, err = strconv.ParseFloat(v.Open, 64); err != nil {
			return nil, fmt.Errorf("parsing open %q: %w", v.Open, err)
		}
		if candle.High, err = strconv.ParseFloat(v.High, 64); err != nil {
			return nil, fmt.Errorf("parsing high %q: %w", v.High, err)
		}
		if candle.Low, err = strconv.ParseFloat(v.Low, 64); err != nil {
			return nil, fmt.Errorf("parsing low %q: %w", v.Low, err)
		}
		if candle.Close, err = strconv.ParseFloat(v.Close, 64); err != nil {
			return nil, fmt.Errorf("parsing close %q: %w", v.Close, err)
		}
		if v.Volume != "" {
			candle.Volume, _ = strconv.ParseFloat(v.Volume, 64)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// CurrentPrice returns the latest price for a symbol. On provider
// failure a cached quote no older than five minutes is returned
// instead.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (types.PriceQuote, error) {
	params := url.Values{}
	params.Set("symbol", c.apiSymbol(symbol))
	params.Set("apikey", c.config.APIKey)

	body, err := c.get(ctx, "/price", params)
	if err == nil {
		var resp priceResponse
		if derr := json.Unmarshal(body, &resp); derr != nil {
			err = fmt.Errorf("decoding price: %w", derr)
		} else if resp.Status == "error" {
			err = fmt.Errorf("provider error: %s", resp.Message)
		} else {
			price, perr := strconv.ParseFloat(resp.Price, 64)
			if perr != nil {
				err = fmt.Errorf("parsing price %q: %w", resp.Price, perr)
			} else {
				quote := types.PriceQuote{Symbol: symbol, Price: price, FetchedAt: time.Now().UTC()}
				c.mu.Lock()
				c.lastQuote[symbol] = quote
				c.mu.Unlock()
				return quote, nil
			}
		}
	}

	c.mu.RLock()
	cached, ok := c.lastQuote[symbol]
	c.mu.RUnlock()
	if ok && time.Since(cached.FetchedAt) <= priceCacheTTL {
		c.logger.Warn("price fetch failed, serving cached quote",
			zap.String("symbol", symbol),
			zap.Time("fetchedAt", cached.FetchedAt),
			zap.Error(err))
		return cached, nil
	}
	return types.PriceQuote{}, fmt.Errorf("fetching price for %s: %w", symbol, err)
}

// get performs a GET with retry on transport errors. HTTP error
// statuses are returned immediately so rate limits are not hammered.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.config.BaseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < maxFetchRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
		}
		return body, nil
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", path, maxFetchRetries, lastErr)
}

func (c *Client) apiSymbol(symbol string) string {
	if mapped, ok := providerSymbols[symbol]; ok {
		return mapped
	}
	return symbol
}

// parseProviderTime accepts the provider's two datetime layouts.
func parseProviderTime(raw string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
