// Package binance reads spot prices from the Binance ticker endpoint.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
)

const (
	Name            = "binance"
	DefaultEndpoint = "https://api.binance.com"
	DefaultQuote    = "USDT"
)

type Config struct {
	Endpoint string
	// Quote is the asset prices are quoted in, e.g. USDT.
	Quote string
}

type Client struct {
	cfg  Config
	http *httpx.Client
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Quote == "" {
		cfg.Quote = DefaultQuote
	}
	cfg.Quote = strings.ToUpper(cfg.Quote)
	if hc == nil {
		hc = httpx.New(10 * time.Second)
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() string { return Name }

// Fetch returns the last trade price of token against the quote asset.
// The quote asset itself is worth exactly one.
func (c *Client) Fetch(ctx context.Context, token string) (float64, error) {
	base := strings.ToUpper(token)
	if base == c.cfg.Quote {
		return 1, nil
	}
	symbol := base + c.cfg.Quote

	q := url.Values{}
	q.Set("symbol", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/api/v3/ticker/price?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	body, err := c.http.Body(ctx, req)
	if err != nil {
		return 0, err
	}

	var t tickerPrice
	if err := json.Unmarshal(body, &t); err != nil {
		return 0, fmt.Errorf("%w: %v", provider.ErrInvalidResponse, err)
	}
	if !strings.EqualFold(t.Symbol, symbol) {
		return 0, fmt.Errorf("%w: asked %s, got %q", provider.ErrInvalidResponse, symbol, t.Symbol)
	}
	d, err := decimal.NewFromString(t.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", provider.ErrInvalidResponse, t.Price, err)
	}
	price, _ := d.Float64()
	return price, nil
}
