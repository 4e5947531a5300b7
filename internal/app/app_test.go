package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"priceresolver/internal/cache"
	"priceresolver/internal/config"
	"priceresolver/internal/provider/ratelimit"
)

func binanceServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("symbol") != "ETHUSDT" {
			http.Error(w, `{"code":-1121}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"2999.10"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(endpoint string) config.Config {
	cfg := config.Default()
	cfg.CoinGecko.Enabled = false
	cfg.Binance.Endpoint = endpoint
	cfg.Cache.Backend = config.BackendMemory
	cfg.Metrics.Enabled = true
	return cfg
}

func TestNew_ResolvesThroughConfiguredProviders(t *testing.T) {
	var hits atomic.Int64
	srv := binanceServer(t, &hits)

	a, err := New(t.Context(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	price, err := a.Engine.GetPrice(t.Context(), "ETH")
	require.NoError(t, err)
	require.InDelta(t, 2999.10, price, 1e-9)

	_, err = a.Engine.GetPrice(t.Context(), "eth")
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load(), "second call served from cache")
	require.NotNil(t, a.Metrics)
}

func TestNew_WarmsFromFileStore(t *testing.T) {
	var hits atomic.Int64
	srv := binanceServer(t, &hits)
	cfg := testConfig(srv.URL)
	cfg.Cache.Backend = config.BackendFile
	cfg.Cache.Path = filepath.Join(t.TempDir(), "price_cache.json")

	first, err := New(t.Context(), cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = first.Engine.GetPrice(t.Context(), "eth")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(t.Context(), cfg, zerolog.Nop())
	require.NoError(t, err)
	q, err := second.Engine.Resolve(t.Context(), "eth")
	require.NoError(t, err)
	require.True(t, q.Cached)
	require.EqualValues(t, 1, hits.Load())
}

func TestNew_UnreachableRedisFallsBackToMemory(t *testing.T) {
	var hits atomic.Int64
	srv := binanceServer(t, &hits)
	cfg := testConfig(srv.URL)
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"

	a, err := New(t.Context(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	price, err := a.Engine.GetPrice(t.Context(), "eth")
	require.NoError(t, err)
	require.InDelta(t, 2999.10, price, 1e-9)

	q, err := a.Engine.Resolve(t.Context(), "eth")
	require.NoError(t, err)
	require.True(t, q.Cached)
	require.EqualValues(t, 1, hits.Load())
	require.InDelta(t, 1.0, testutil.ToFloat64(a.Metrics.CacheStoreErrorsTotal.WithLabelValues("connect")), 1e-9)
}

func TestProviders_OrderAndDecorators(t *testing.T) {
	cfg := config.Default()
	cfg.Uniswap.Enabled = true
	cfg.Resolver.Order = []string{"uniswap", "binance"}
	cfg.Binance.MaxRequestsPerMinute = 0
	cfg.Binance.MinRequestIntervalSec = 0

	ps, err := Providers(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	require.Equal(t, "uniswap", ps[0].Name())
	require.Equal(t, "binance", ps[1].Name())
	require.Equal(t, "coingecko", ps[2].Name())

	require.IsType(t, &ratelimit.Limited{}, ps[0])
	_, limited := ps[1].(*ratelimit.Limited)
	require.False(t, limited, "zero limits leave the adapter bare")
}

func TestProviders_ChainlinkNeedsRPC(t *testing.T) {
	cfg := config.Default()
	cfg.Chainlink.Enabled = true

	_, err := Providers(t.Context(), cfg)
	require.Error(t, err)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(t.Context(), config.Cache{Backend: config.BackendMemory})
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = NewStore(t.Context(), config.Cache{Backend: config.BackendFile, Path: "x.json"})
	require.NoError(t, err)
	require.IsType(t, &cache.FileStore{}, s)

	_, err = NewStore(t.Context(), config.Cache{Backend: config.BackendRedis, RedisURL: "::bad"})
	require.Error(t, err)
	require.NotErrorIs(t, err, cache.ErrStoreUnavailable)

	_, err = NewStore(t.Context(), config.Cache{Backend: "s3"})
	require.Error(t, err)
}

func TestGetPrice_ProcessWideEngine(t *testing.T) {
	var hits atomic.Int64
	srv := binanceServer(t, &hits)
	t.Chdir(t.TempDir())
	t.Setenv("PRICERESOLVER_COINGECKO_ENABLED", "false")
	t.Setenv("PRICERESOLVER_BINANCE_ENDPOINT", srv.URL)
	t.Setenv("PRICERESOLVER_CACHE_BACKEND", "memory")
	t.Setenv("PRICERESOLVER_LOG_OUTPUT", "stderr")

	price, err := GetPrice(t.Context(), "eth")
	require.NoError(t, err)
	require.InDelta(t, 2999.10, price, 1e-9)

	a1, err := Default(t.Context())
	require.NoError(t, err)
	a2, err := Default(t.Context())
	require.NoError(t, err)
	require.Same(t, a1, a2)

	_, err = GetPrice(t.Context(), " ETH ")
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())
}
