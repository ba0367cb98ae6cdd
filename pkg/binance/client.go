// Package binance is a small client for the public Binance spot REST API:
// klines, ticker price and 24h change. No endpoint here needs an API key.
//
// Usage example:
//
//	c := binance.NewClient(binance.Config{})
//	candles, err := c.Klines(ctx, "BTCUSDT", "5m", 100)
//	if err != nil { log.Fatal(err) }
//	fmt.Println("last close:", candles[len(candles)-1].Close)
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elPachango/bitbot/internal/model"
)

// ---- Config & client ----

type Config struct {
	RootURL string        // default: https://api.binance.com
	Timeout time.Duration // default: 10s

	// PageDelay is the pause between paginated history requests.
	// Default: 100ms.
	PageDelay time.Duration
}

type Client struct {
	rootURL    string
	pageDelay  time.Duration
	httpClient *http.Client
}

const (
	defaultRoot = "https://api.binance.com"

	// MaxKlinesPerRequest is Binance's page size limit for /klines.
	MaxKlinesPerRequest = 1000
)

var routes = map[string]string{
	"api.klines":       "/api/v3/klines",
	"api.ticker.price": "/api/v3/ticker/price",
	"api.ticker.24hr":  "/api/v3/ticker/24hr",
}

// NewClient creates a client, filling defaults for zero Config fields.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = 100 * time.Millisecond
	}
	return &Client{
		rootURL:    strings.TrimRight(cfg.RootURL, "/"),
		pageDelay:  cfg.PageDelay,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from Binance.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance: HTTP %d: code=%d %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: HTTP %d", e.Status)
}

// ---- Endpoints ----

// Klines returns the latest limit candles, oldest first. The last one is
// usually still forming and has Closed=false.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.klines(ctx, symbol, q, time.Now())
}

// HistoricalKlines pages through /klines from start until end (or now if
// end is zero), MaxKlinesPerRequest candles at a time.
func (c *Client) HistoricalKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Candle, error) {
	if end.IsZero() {
		end = time.Now()
	}
	var all []model.Candle
	cursor := start.UnixMilli()
	for cursor < end.UnixMilli() {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(cursor, 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(MaxKlinesPerRequest))

		page, err := c.klines(ctx, symbol, q, time.Now())
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		cursor = page[len(page)-1].TS.UnixMilli() + 1
		if len(page) < MaxKlinesPerRequest {
			break
		}

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(c.pageDelay):
		}
	}
	return all, nil
}

// TickerPrice returns the last traded price.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	if err := c.getJSON(ctx, "api.ticker.price", url.Values{"symbol": {symbol}}, &out); err != nil {
		return 0, err
	}
	return parseFloat("price", out.Price)
}

// Change24h returns the 24h price change in percent.
func (c *Client) Change24h(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := c.getJSON(ctx, "api.ticker.24hr", url.Values{"symbol": {symbol}}, &out); err != nil {
		return 0, err
	}
	return parseFloat("priceChangePercent", out.PriceChangePercent)
}

// ---- Helpers ----

func (c *Client) klines(ctx context.Context, symbol string, q url.Values, now time.Time) ([]model.Candle, error) {
	var raw [][]json.RawMessage
	if err := c.getJSON(ctx, "api.klines", q, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		k, err := ParseKlineRow(symbol, row, now)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, route string, q url.Values, dst interface{}) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	reqURL := c.rootURL + uri
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("binance: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s: %w", route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read %s: %w", route, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("binance: decode %s: %w", route, err)
	}
	return nil
}

// ParseKlineRow converts one /klines array row
// [openTime, open, high, low, close, volume, closeTime, ...] into a Candle.
// The candle is Closed when its close time is before now.
func ParseKlineRow(symbol string, row []json.RawMessage, now time.Time) (model.Candle, error) {
	if len(row) < 7 {
		return model.Candle{}, &model.MalformedInputError{Field: "kline", Reason: fmt.Sprintf("expected >= 7 fields, got %d", len(row))}
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, &model.MalformedInputError{Field: "open_time", Reason: err.Error()}
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Candle{}, &model.MalformedInputError{Field: "close_time", Reason: err.Error()}
	}

	var vals [5]float64
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, &model.MalformedInputError{Field: names[i], Reason: err.Error()}
		}
		v, err := parseFloat(names[i], s)
		if err != nil {
			return model.Candle{}, err
		}
		vals[i] = v
	}

	c := model.Candle{
		Symbol:  symbol,
		TS:      time.UnixMilli(openMs).UTC(),
		Open:    vals[0],
		High:    vals[1],
		Low:     vals[2],
		Close:   vals[3],
		Volume:  vals[4],
		CloseTS: time.UnixMilli(closeMs).UTC(),
	}
	c.Closed = c.CloseTS.Before(now)
	return c, nil
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &model.MalformedInputError{Field: field, Reason: fmt.Sprintf("not a number: %q", s)}
	}
	return v, nil
}

// PriceChange returns the percent change between the latest close and the
// close minutes ago, given candles of intervalMinutes each. With too little
// history the oldest candle is used; fewer than two candles yield 0.
// The result is rounded to two decimals.
func PriceChange(candles []model.Candle, minutes, intervalMinutes int) float64 {
	if len(candles) < 2 || minutes <= 0 || intervalMinutes <= 0 {
		return 0
	}
	back := minutes / intervalMinutes
	if back < 1 {
		back = 1
	}
	if back > len(candles)-1 {
		back = len(candles) - 1
	}
	cur := candles[len(candles)-1].Close
	past := candles[len(candles)-1-back].Close
	if past == 0 {
		return 0
	}
	pct := (cur - past) / past * 100
	return math.Round(pct*100) / 100
}

// IntervalDuration parses Binance interval strings (1m, 5m, 1h, 4h, 1d, 1w).
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("binance: bad interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("binance: bad interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("binance: bad interval %q", interval)
}
