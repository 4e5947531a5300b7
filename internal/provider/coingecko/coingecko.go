// Package coingecko resolves token prices through the CoinGecko REST API.
package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"priceresolver/internal/httpx"
	"priceresolver/internal/provider"
)

const (
	Name               = "coingecko"
	DefaultEndpoint    = "https://api.coingecko.com/api/v3"
	DefaultCoinListTTL = 6 * time.Hour

	coinListTimeout = 30 * time.Second
)

// preferred pins symbols shared by many coins to the coin people mean.
var preferred = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"usdt":  "tether",
	"usdc":  "usd-coin",
	"bnb":   "binancecoin",
	"sol":   "solana",
	"matic": "matic-network",
	"link":  "chainlink",
	"uni":   "uniswap",
	"dai":   "dai",
}

type Config struct {
	Endpoint    string
	APIKey      string
	CoinListTTL time.Duration
}

// Client maps a symbol to a CoinGecko coin id via /coins/list, then asks
// /simple/price for its USD price.
type Client struct {
	cfg  Config
	http *httpx.Client
	now  func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	ids      map[string]string
	loadedAt time.Time
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.CoinListTTL <= 0 {
		cfg.CoinListTTL = DefaultCoinListTTL
	}
	if hc == nil {
		hc = httpx.New(10 * time.Second)
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

func (c *Client) Name() string { return Name }

func (c *Client) Fetch(ctx context.Context, token string) (float64, error) {
	id, err := c.coinID(ctx, token)
	if err != nil {
		return 0, err
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	body, err := c.get(ctx, "/simple/price?"+q.Encode())
	if err != nil {
		return 0, err
	}

	v := gjson.GetBytes(body, gjson.Escape(id)+".usd")
	if !v.Exists() {
		return 0, fmt.Errorf("%w: no usd price for %s", provider.ErrInvalidResponse, id)
	}
	return v.Float(), nil
}

func (c *Client) coinID(ctx context.Context, token string) (string, error) {
	if id, ok := preferred[token]; ok {
		return id, nil
	}

	c.mu.RLock()
	fresh := c.ids != nil && c.now().Sub(c.loadedAt) < c.cfg.CoinListTTL
	id, ok := c.ids[token]
	c.mu.RUnlock()
	if fresh {
		if !ok {
			return "", fmt.Errorf("%w: %s", provider.ErrUnknownToken, token)
		}
		return id, nil
	}

	// Concurrent misses share one list download. It runs detached from the
	// first caller so that caller's cancellation does not fail the others.
	ch := c.group.DoChan("coins/list", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), coinListTimeout)
		defer cancel()
		return nil, c.refreshCoins(rctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
	}

	c.mu.RLock()
	id, ok = c.ids[token]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", provider.ErrUnknownToken, token)
	}
	return id, nil
}

func (c *Client) refreshCoins(ctx context.Context) error {
	body, err := c.get(ctx, "/coins/list")
	if err != nil {
		return fmt.Errorf("coins list: %w", err)
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		return fmt.Errorf("%w: coins list is not an array", provider.ErrInvalidResponse)
	}

	ids := make(map[string]string)
	list.ForEach(func(_, coin gjson.Result) bool {
		sym := provider.NormalizeToken(coin.Get("symbol").String())
		id := coin.Get("id").String()
		// first listing wins for duplicate symbols
		if _, seen := ids[sym]; sym != "" && id != "" && !seen {
			ids[sym] = id
		}
		return true
	})

	c.mu.Lock()
	c.ids = ids
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.cfg.APIKey)
	}
	return c.http.Body(ctx, req)
}
