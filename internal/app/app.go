// Package app wires configuration into a ready resolver: adapters with their
// rate limits, the cache and its store, metrics and logging.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"priceresolver/internal/cache"
	"priceresolver/internal/config"
	"priceresolver/internal/httpx"
	"priceresolver/internal/logging"
	"priceresolver/internal/metrics"
	"priceresolver/internal/provider"
	"priceresolver/internal/provider/binance"
	"priceresolver/internal/provider/chainlink"
	"priceresolver/internal/provider/coingecko"
	"priceresolver/internal/provider/ratelimit"
	"priceresolver/internal/provider/uniswap"
	"priceresolver/internal/resolver"
)

type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Engine  *resolver.Engine
	Metrics *metrics.Metrics // nil when metrics are disabled

	store cache.Store
}

// New builds the engine described by cfg and warms its cache from the
// configured store. A store that fails to load is logged and left empty; one
// that cannot be reached at all leaves the cache memory-only.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	store, err := NewStore(ctx, cfg.Cache)
	switch {
	case errors.Is(err, cache.ErrStoreUnavailable):
		log.Warn().Err(err).Str("backend", cfg.Cache.Backend).Msg("cache store unreachable, caching in memory only")
		m.StoreError("connect")
		store = nil
	case err != nil:
		return nil, err
	}
	c := cache.New(cfg.Cache.TTL(),
		cache.WithStore(store),
		cache.WithLogger(log.With().Str("component", "cache").Logger()),
		cache.WithMetrics(m),
	)
	if err := c.Load(ctx); err != nil {
		log.Warn().Err(err).Str("backend", cfg.Cache.Backend).Msg("price cache not loaded, starting empty")
	}

	providers, err := Providers(ctx, cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	engine, err := resolver.New(providers, c,
		resolver.WithProviderTimeout(cfg.Resolver.ProviderTimeout()),
		resolver.WithLogger(log.With().Str("component", "resolver").Logger()),
		resolver.WithMetrics(m),
	)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	log.Info().Strs("providers", names).Int("cached", c.Len()).Dur("ttl", c.TTL()).Msg("price resolver ready")

	return &App{Config: cfg, Log: log, Engine: engine, Metrics: m, store: store}, nil
}

// Close releases the cache store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func closeStore(s cache.Store) {
	if s != nil {
		_ = s.Close()
	}
}

// NewStore returns the persistence backend for cfg, or nil for memory-only.
func NewStore(ctx context.Context, cfg config.Cache) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return cache.NewFileStore(cfg.Path), nil
	case config.BackendRedis:
		s, err := cache.NewRedisStore(ctx, cache.RedisConfig{URL: cfg.RedisURL, Key: cfg.RedisKey})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Providers builds the enabled adapters in configured order, each wrapped in
// its rate limits.
func Providers(ctx context.Context, cfg config.Config) ([]provider.Provider, error) {
	hc := httpx.New(cfg.Resolver.ProviderTimeout())

	var out []provider.Provider
	for _, name := range cfg.EnabledProviders() {
		var (
			p      provider.Provider
			limits config.Limits
		)
		switch name {
		case coingecko.Name:
			p = coingecko.New(coingecko.Config{
				Endpoint:    cfg.CoinGecko.Endpoint,
				APIKey:      cfg.CoinGecko.APIKey,
				CoinListTTL: time.Duration(cfg.CoinGecko.CoinListTTLSec) * time.Second,
			}, hc)
			limits = cfg.CoinGecko.Limits
		case binance.Name:
			p = binance.New(binance.Config{Endpoint: cfg.Binance.Endpoint, Quote: cfg.Binance.Quote}, hc)
			limits = cfg.Binance.Limits
		case uniswap.Name:
			p = uniswap.New(uniswap.Config{Endpoint: cfg.Uniswap.Endpoint, APIKey: cfg.Uniswap.APIKey}, hc)
			limits = cfg.Uniswap.Limits
		case chainlink.Name:
			cl, err := chainlink.Dial(ctx, chainlink.Config{
				RPCURL: cfg.Chainlink.RPCURL,
				Feeds:  cfg.Chainlink.Feeds,
				MaxAge: time.Duration(cfg.Chainlink.MaxAgeSec) * time.Second,
			})
			if err != nil {
				return nil, err
			}
			p = cl
			limits = cfg.Chainlink.Limits
		default:
			continue
		}
		out = append(out, ratelimit.Wrap(p, limits.MaxRequestsPerMinute, limits.Burst, limits.MinInterval()))
	}
	if len(out) == 0 {
		return nil, errors.New("no provider enabled")
	}
	return out, nil
}

var (
	defaultOnce sync.Once
	defaultApp  *App
	defaultErr  error
)

// Default returns the process-wide App, built once from config.Load("") and
// the environment. A failed build is not retried.
func Default(ctx context.Context) (*App, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			defaultErr = err
			return
		}
		// the process-wide app is never closed, so a log file stays open
		// until exit
		log, _, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
		if err != nil {
			defaultErr = fmt.Errorf("init logging: %w", err)
			return
		}
		// built once, so it must not die with the first caller's context
		defaultApp, defaultErr = New(context.WithoutCancel(ctx), cfg, log)
	})
	return defaultApp, defaultErr
}

// GetPrice resolves token on the process-wide engine.
func GetPrice(ctx context.Context, token string) (float64, error) {
	a, err := Default(ctx)
	if err != nil {
		return 0, err
	}
	return a.Engine.GetPrice(ctx, token)
}
