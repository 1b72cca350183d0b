// Package binance reads spot klines from the Binance public REST API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.binance.com"

	// 6000 weight per minute; klines with limit <= 100 cost 2.
	defaultRatePerSec = 20

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Kline is one bar together with the time it closes. A kline whose close
// time is still in the future is the bar currently forming.
type Kline struct {
	Candle    domain.Candle
	CloseTime time.Time
}

// Closed reports whether the bar had finished at now.
func (k Kline) Closed(now time.Time) bool {
	return !k.CloseTime.After(now)
}

// Client fetches klines with client-side rate limiting and retries on 429
// and 5xx responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryWait  time.Duration
	logger     *slog.Logger
}

// NewClient creates a Binance client. An empty baseURL uses the production
// endpoint; ratePerSec <= 0 uses the default budget.
func NewClient(baseURL string, ratePerSec float64, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 5),
		retryWait:  baseRetryWait,
		logger:     logger.With(slog.String("component", "binance")),
	}
}

// Klines returns up to limit bars for symbol at interval (e.g. "5m"),
// oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if symbol == "" || interval == "" || limit <= 0 {
		return nil, fmt.Errorf("binance: klines: symbol, interval and limit are required: %w", domain.ErrValidation)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.get(ctx, c.baseURL+"/api/v3/klines?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}

	out := make([]Kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance: klines %s: row %d: %w", symbol, i, err)
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Candle.Timestamp.Before(out[j].Candle.Timestamp)
	})
	return out, nil
}

// parseKline reads one row of the array-of-arrays kline format:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("short row (%d fields): %w", len(row), domain.ErrExternal)
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Kline{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Kline{}, fmt.Errorf("close time: %w", err)
	}

	var fields [5]decimal.Decimal
	for i := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = d
	}

	return Kline{
		Candle: domain.Candle{
			Timestamp: time.UnixMilli(openMs).UTC(),
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		},
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt == maxRetries {
				return fmt.Errorf("request failed: %v: %w", err, domain.ErrExternal)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries: %w", resp.StatusCode, maxRetries, domain.ErrExternal)
			}
			c.logger.Warn("retrying klines request",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
			c.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, domain.ErrExternal)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %v: %w", err, domain.ErrExternal)
		}
		return nil
	}
	return errors.New("exhausted retries")
}

// sleep waits with exponential backoff, returning early on cancellation.
func (c *Client) sleep(ctx context.Context, attempt int) {
	t := time.NewTimer(c.retryWait << attempt)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
