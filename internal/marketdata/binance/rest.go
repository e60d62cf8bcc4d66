// Package binance reads USDⓈ-M futures market data: REST klines, exchange
// filters and the kline websocket stream. No authenticated endpoint is used.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"scalper/internal/model"
	"scalper/internal/risk"
)

const (
	DefaultRESTBase = "https://fapi.binance.com"
	maxKlineLimit   = 1500
)

// Client is a rate-limited REST client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client allowing rps requests per second with a burst of
// twice that. rps <= 0 disables limiting.
func NewClient(baseURL string, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTBase
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(2 * rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: lim,
	}
}

// APIError is a non-200 reply.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: res.StatusCode}
		_ = json.NewDecoder(res.Body).Decode(apiErr)
		return apiErr
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

// Klines returns up to limit bars of a series, oldest first. Zero start or
// end times are omitted. Without an end time the newest bar is still forming.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int, start, end time.Time) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		if limit > maxKlineLimit {
			limit = maxKlineLimit
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	var raw [][]any
	if err := c.get(ctx, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}
	bars := make([]model.Bar, 0, len(raw))
	for i, item := range raw {
		if len(item) < 6 {
			return nil, fmt.Errorf("binance: kline %d has %d fields", i, len(item))
		}
		b, err := parseKlineRow(item)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseKlineRow(item []any) (model.Bar, error) {
	var b model.Bar
	ms, err := toInt64(item[0])
	if err != nil {
		return b, err
	}
	b.Time = time.UnixMilli(ms).UTC()
	for i, dst := range []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume} {
		if *dst, err = toFloat(item[i+1]); err != nil {
			return b, err
		}
	}
	return b, nil
}

// History pages through klines from start until end (exclusive), returning
// only closed bars. A zero end means now.
func (c *Client) History(ctx context.Context, symbol, interval string, step time.Duration, start, end time.Time) ([]model.Bar, error) {
	if end.IsZero() {
		end = time.Now()
	}
	var out []model.Bar
	for cursor := start; cursor.Before(end); {
		page, err := c.Klines(ctx, symbol, interval, maxKlineLimit, cursor, end.Add(-time.Millisecond))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			if b.Time.Add(step).After(end) {
				break
			}
			out = append(out, b)
		}
		next := page[len(page)-1].Time.Add(step)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return out, nil
}

// SymbolFilters are the trading rules of a symbol.
type SymbolFilters struct {
	Lot         risk.LotFilter
	MinNotional float64
}

// ExchangeFilters reads the lot, price and notional filters of symbol.
func (c *Client) ExchangeFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info struct {
		Symbols []struct {
			Symbol  string           `json:"symbol"`
			Filters []map[string]any `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return SymbolFilters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var f SymbolFilters
		for _, flt := range s.Filters {
			switch flt["filterType"] {
			case "LOT_SIZE":
				f.Lot.StepSize = parseOr(flt["stepSize"])
				f.Lot.MinQty = parseOr(flt["minQty"])
			case "PRICE_FILTER":
				f.Lot.TickSize = parseOr(flt["tickSize"])
			case "MIN_NOTIONAL":
				f.MinNotional = parseOr(flt["notional"])
			}
		}
		return f, nil
	}
	return SymbolFilters{}, fmt.Errorf("binance: symbol %s not listed", symbol)
}

func parseOr(v any) float64 {
	f, _ := toFloat(v)
	return f
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
