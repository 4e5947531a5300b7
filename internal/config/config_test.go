package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 60*time.Second, cfg.Cache.TTL())
	require.Equal(t, 10*time.Second, cfg.Resolver.ProviderTimeout())
	require.Equal(t, []string{"coingecko", "binance"}, cfg.EnabledProviders())
}

func TestLoad_YAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "config.yaml", `
cache:
  backend: memory
  ttl_sec: 30
binance:
  enabled: false
uniswap:
  enabled: true
  api_key: graph
  max_requests_per_minute: 10
chainlink:
  enabled: true
  rpc_url: https://eth.example
  feeds:
    eth: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
resolver:
  order: [chainlink, uniswap]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Cache.Backend)
	require.Equal(t, 30, cfg.Cache.TTLSec)
	require.Equal(t, 10, cfg.Uniswap.MaxRequestsPerMinute)
	require.Equal(t, 5, cfg.Uniswap.Burst, "unset keys keep defaults")
	require.Equal(t, []string{"chainlink", "uniswap", "coingecko"}, cfg.EnabledProviders())
}

func TestLoad_JSONByExtension(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "settings.json", `{"server":{"port":"9090"},"coingecko":{"api_key":"cg","burst":2}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "cg", cfg.CoinGecko.APIKey)
	require.Equal(t, 2, cfg.CoinGecko.Burst)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "config.yaml", "cache:\n  ttl_sec: 30\n")
	t.Setenv("PRICERESOLVER_CACHE_TTL_SEC", "90")
	t.Setenv("PRICERESOLVER_COINGECKO_API_KEY", "from-env")
	t.Setenv("PRICERESOLVER_BINANCE_MAX_REQUESTS_PER_MINUTE", "120")
	t.Setenv("PRICERESOLVER_LOG_LEVEL", "debug")
	t.Setenv("PRICERESOLVER_WATCH_TOKENS", "eth,sol")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 90, cfg.Cache.TTLSec)
	require.Equal(t, "from-env", cfg.CoinGecko.APIKey)
	require.Equal(t, 120, cfg.Binance.MaxRequestsPerMinute)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, []string{"eth", "sol"}, cfg.Watch.Tokens)
}

func TestLoad_IgnoresUnprefixedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PATH", "/usr/bin:/bin")
	t.Setenv("PORT", "9999")
	t.Setenv("ENABLED", "false")
	t.Setenv("API_KEY", "leaked")
	t.Setenv("LEVEL", "trace")
	t.Setenv("TOKENS", "doge")

	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	require.Equal(t, "price_cache.json", cfg.Cache.Path)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
	require.Equal(t, def.Server.Port, cfg.Server.Port)
	require.True(t, cfg.CoinGecko.Enabled)
	require.True(t, cfg.Binance.Enabled)
	require.Empty(t, cfg.CoinGecko.APIKey)
	require.Equal(t, def.Logging.Level, cfg.Logging.Level)
	require.Equal(t, def.Watch.Tokens, cfg.Watch.Tokens)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRICERESOLVER_SERVER_PORT=7070\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PRICERESOLVER_SERVER_PORT") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "config.json", `{"server":`)
	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.TTLSec = 0 }, errMsg: "ttl_sec"},
		{name: "zero timeout", mutate: func(c *Config) { c.Resolver.ProviderTimeoutSec = 0 }, errMsg: "provider_timeout_sec"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "s3" }, errMsg: "unknown cache backend"},
		{name: "redis without url", mutate: func(c *Config) { c.Cache.Backend = BackendRedis }, errMsg: "redis_url"},
		{name: "nothing enabled", mutate: func(c *Config) {
			c.CoinGecko.Enabled = false
			c.Binance.Enabled = false
		}, errMsg: "no provider"},
		{name: "chainlink without rpc", mutate: func(c *Config) { c.Chainlink.Enabled = true }, errMsg: "rpc_url"},
		{name: "chainlink bad feed", mutate: func(c *Config) {
			c.Chainlink.Enabled = true
			c.Chainlink.RPCURL = "http://localhost:8545"
			c.Chainlink.Feeds = map[string]string{"eth": "0x123"}
		}, errMsg: "invalid address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
