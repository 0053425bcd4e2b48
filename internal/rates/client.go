package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// defaultTickers is used until the service answers a supported currencies request.
var defaultTickers = []string{
	"usd", "eur", "rub", "jpy", "gbp", "aud", "brl", "cad", "chf", "clp", "cny",
	"czk", "dkk", "hkd", "idr", "ils", "inr", "krw", "mxn", "myr", "nok", "nzd",
	"php", "pkr", "pln", "sek", "sgd", "thb", "try", "twd", "zar",
}

// Client is a CoinGecko-style price API client.
type Client struct {
	baseURL    string
	apiKey     string
	coinID     string
	httpClient *http.Client
	limiter    *rate.Limiter
	prices     *ttlcache.Cache[string, decimal.Decimal]

	mu      sync.RWMutex
	tickers map[string]bool
}

// NewClient creates a new price client quoting coinID.
func NewClient(baseURL, apiKey, coinID string, cacheTTL time.Duration) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		coinID:  coinID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3), // free tier is ~30 calls/min
		prices: ttlcache.New[string, decimal.Decimal](
			ttlcache.WithTTL[string, decimal.Decimal](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, decimal.Decimal](),
		),
	}
	c.setTickers(defaultTickers)
	return c
}

// Close stops the cache janitor.
func (c *Client) Close() {
	c.prices.Stop()
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// Rate returns the price of one coin in ticker.
func (c *Client) Rate(ctx context.Context, ticker string) (decimal.Decimal, error) {
	ticker = strings.ToLower(ticker)
	if item := c.prices.Get(ticker); item != nil {
		return item.Value(), nil
	}

	query := url.Values{}
	query.Set("ids", c.coinID)
	query.Set("vs_currencies", ticker)
	data, err := c.doRequest(ctx, "/simple/price", query)
	if err != nil {
		return decimal.Zero, err
	}

	var resp map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(data, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("unmarshal: %w", err)
	}
	price, ok := resp[c.coinID][ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s price for %s", ticker, c.coinID)
	}

	c.prices.Set(ticker, price, ttlcache.DefaultTTL)
	return price, nil
}

// Supports reports whether ticker is a known quote currency.
func (c *Client) Supports(ticker string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickers[strings.ToLower(ticker)]
}

// SupportedTickers returns the sorted list of quote currencies.
func (c *Client) SupportedTickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.tickers))
	for t := range c.tickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RefreshTickers replaces the supported list with the service's current one.
func (c *Client) RefreshTickers(ctx context.Context) (int, error) {
	data, err := c.doRequest(ctx, "/simple/supported_vs_currencies", nil)
	if err != nil {
		return 0, err
	}

	var tickers []string
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, fmt.Errorf("unmarshal: %w", err)
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("empty currency list")
	}

	c.setTickers(tickers)
	return len(tickers), nil
}

func (c *Client) setTickers(list []string) {
	tickers := make(map[string]bool, len(list))
	for _, t := range list {
		tickers[strings.ToLower(strings.TrimSpace(t))] = true
	}

	c.mu.Lock()
	c.tickers = tickers
	c.mu.Unlock()
}
