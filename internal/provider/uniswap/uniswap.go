// Package uniswap prices tokens from the Uniswap v3 subgraph: the token's
// derivedETH times the pool-implied ETH/USD price.
package uniswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
)

const (
	Name            = "uniswap"
	DefaultEndpoint = "https://gateway.thegraph.com/api/subgraphs/id/5zvR82QoaXYFyDEKLZ9t6v9adgnptxYpKpSbxtgVENFV"
)

// The pool with the most value locked wins when several tokens share a symbol.
const priceQuery = `query Price($symbols: [String!]) {
  tokens(first: 1, orderBy: totalValueLockedUSD, orderDirection: desc, where: {symbol_in: $symbols}) {
    id
    symbol
    derivedETH
  }
  bundle(id: "1") {
    ethPriceUSD
  }
}`

// wrapped maps native assets to the ERC-20 that trades on Uniswap.
var wrapped = map[string]string{
	"eth": "WETH",
	"btc": "WBTC",
}

type Config struct {
	Endpoint string
	APIKey   string
}

type Client struct {
	cfg  Config
	http *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if hc == nil {
		hc = httpx.New(10 * time.Second)
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() string { return Name }

func (c *Client) Fetch(ctx context.Context, token string) (float64, error) {
	payload, err := json.Marshal(map[string]any{
		"query":     priceQuery,
		"variables": map[string]any{"symbols": symbols(token)},
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	body, err := c.http.Body(ctx, req)
	if err != nil {
		return 0, err
	}
	return parse(body, token)
}

func symbols(token string) []string {
	if w, ok := wrapped[token]; ok {
		return []string{w}
	}
	up := strings.ToUpper(token)
	if up == token {
		return []string{up}
	}
	return []string{up, token}
}

func parse(body []byte, token string) (float64, error) {
	res := gjson.ParseBytes(body)
	if errs := res.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return 0, fmt.Errorf("%w: %s", provider.ErrInvalidResponse, errs.Array()[0].Get("message").String())
	}

	tokens := res.Get("data.tokens")
	if !tokens.IsArray() {
		return 0, fmt.Errorf("%w: missing data.tokens", provider.ErrInvalidResponse)
	}
	if len(tokens.Array()) == 0 {
		return 0, fmt.Errorf("%w: %s", provider.ErrUnknownToken, token)
	}

	derived, err := decimal.NewFromString(tokens.Get("0.derivedETH").String())
	if err != nil {
		return 0, fmt.Errorf("%w: derivedETH: %v", provider.ErrInvalidResponse, err)
	}
	ethUSD, err := decimal.NewFromString(res.Get("data.bundle.ethPriceUSD").String())
	if err != nil {
		return 0, fmt.Errorf("%w: ethPriceUSD: %v", provider.ErrInvalidResponse, err)
	}

	price, _ := derived.Mul(ethUSD).Float64()
	return price, nil
}
