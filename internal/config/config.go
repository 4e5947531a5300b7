package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PRICERESOLVER_CACHE_TTL_SEC.
// Leaf fields use split_words rather than envconfig tags: a tag also makes
// envconfig read the bare name (PATH, PORT, ENABLED) when the prefixed one is
// unset.
const EnvPrefix = "PRICERESOLVER"

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Server struct {
	Port              string `json:"port" yaml:"port" split_words:"true"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec" split_words:"true"`
}

type Resolver struct {
	ProviderTimeoutSec int `json:"provider_timeout_sec" yaml:"provider_timeout_sec" split_words:"true"`
	// Order is the registration order of enabled providers; it breaks score ties.
	Order []string `json:"order" yaml:"order" split_words:"true"`
}

type Cache struct {
	Backend  string `json:"backend" yaml:"backend" split_words:"true"`
	TTLSec   int    `json:"ttl_sec" yaml:"ttl_sec" split_words:"true"`
	Path     string `json:"path" yaml:"path" split_words:"true"`
	RedisURL string `json:"redis_url" yaml:"redis_url" split_words:"true"`
	RedisKey string `json:"redis_key" yaml:"redis_key" split_words:"true"`
}

type Logging struct {
	Level  string `json:"level" yaml:"level" split_words:"true"`
	Format string `json:"format" yaml:"format" split_words:"true"`
	Output string `json:"output" yaml:"output" split_words:"true"`
}

type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled" split_words:"true"`
	Path    string `json:"path" yaml:"path" split_words:"true"`
}

type Watch struct {
	Schedule string   `json:"schedule" yaml:"schedule" split_words:"true"`
	Tokens   []string `json:"tokens" yaml:"tokens" split_words:"true"`
}

// Limits are the per-provider request quotas. Zero disables a limit.
type Limits struct {
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute" split_words:"true"`
	Burst                 int `json:"burst" yaml:"burst" split_words:"true"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" yaml:"min_request_interval_sec" split_words:"true"`
}

type CoinGecko struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" split_words:"true"`
	Endpoint       string `json:"endpoint" yaml:"endpoint" split_words:"true"`
	APIKey         string `json:"api_key" yaml:"api_key" split_words:"true"`
	CoinListTTLSec int    `json:"coin_list_ttl_sec" yaml:"coin_list_ttl_sec" split_words:"true"`
	Limits         `yaml:",inline"`
}

type Binance struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" split_words:"true"`
	Endpoint string `json:"endpoint" yaml:"endpoint" split_words:"true"`
	Quote    string `json:"quote" yaml:"quote" split_words:"true"`
	Limits   `yaml:",inline"`
}

type Uniswap struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" split_words:"true"`
	Endpoint string `json:"endpoint" yaml:"endpoint" split_words:"true"`
	APIKey   string `json:"api_key" yaml:"api_key" split_words:"true"`
	Limits   `yaml:",inline"`
}

type Chainlink struct {
	Enabled   bool              `json:"enabled" yaml:"enabled" split_words:"true"`
	// env: PRICERESOLVER_CHAINLINK_RPCURL
	RPCURL    string            `json:"rpc_url" yaml:"rpc_url" split_words:"true"`
	Feeds     map[string]string `json:"feeds" yaml:"feeds" split_words:"true"`
	MaxAgeSec int               `json:"max_age_sec" yaml:"max_age_sec" split_words:"true"`
	Limits    `yaml:",inline"`
}

type Config struct {
	Server    Server    `json:"server" yaml:"server" envconfig:"server"`
	Resolver  Resolver  `json:"resolver" yaml:"resolver" envconfig:"resolver"`
	Cache     Cache     `json:"cache" yaml:"cache" envconfig:"cache"`
	Logging   Logging   `json:"logging" yaml:"logging" envconfig:"log"`
	Metrics   Metrics   `json:"metrics" yaml:"metrics" envconfig:"metrics"`
	Watch     Watch     `json:"watch" yaml:"watch" envconfig:"watch"`
	CoinGecko CoinGecko `json:"coingecko" yaml:"coingecko" envconfig:"coingecko"`
	Binance   Binance   `json:"binance" yaml:"binance" envconfig:"binance"`
	Uniswap   Uniswap   `json:"uniswap" yaml:"uniswap" envconfig:"uniswap"`
	Chainlink Chainlink `json:"chainlink" yaml:"chainlink" envconfig:"chainlink"`
}

func Default() Config {
	return Config{
		Server:   Server{Port: "8080", RequestTimeoutSec: 30},
		Resolver: Resolver{ProviderTimeoutSec: 10, Order: []string{"coingecko", "binance", "uniswap", "chainlink"}},
		Cache: Cache{
			Backend:  BackendFile,
			TTLSec:   60,
			Path:     "price_cache.json",
			RedisKey: "priceresolver:prices",
		},
		Logging: Logging{Level: "info", Format: "json", Output: "stdout"},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
		Watch:   Watch{Schedule: "@every 1m", Tokens: []string{"eth", "btc"}},
		CoinGecko: CoinGecko{
			Enabled:        true,
			Endpoint:       "https://api.coingecko.com/api/v3",
			CoinListTTLSec: 6 * 3600,
			// free tier allows roughly 30 calls per minute
			Limits: Limits{MaxRequestsPerMinute: 25, Burst: 5},
		},
		Binance: Binance{
			Enabled:  true,
			Endpoint: "https://api.binance.com",
			Quote:    "USDT",
			Limits:   Limits{MaxRequestsPerMinute: 600, Burst: 20},
		},
		Uniswap: Uniswap{
			Enabled:  false,
			Endpoint: "https://gateway.thegraph.com/api/subgraphs/id/5zvR82QoaXYFyDEKLZ9t6v9adgnptxYpKpSbxtgVENFV",
			Limits:   Limits{MaxRequestsPerMinute: 60, Burst: 5},
		},
		Chainlink: Chainlink{
			Enabled:   false,
			MaxAgeSec: 24 * 3600,
		},
	}
}

// Load reads a YAML or JSON config from path (JSON when the extension is
// .json). If path is empty, CONFIG_FILE and then ./config.yaml, ./config.json
// are tried; with no file at all the defaults are used. A .env file in the
// working directory is loaded first, and PRICERESOLVER_* variables override
// whatever the file set.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(b, cfg)
	}
	return yaml.Unmarshal(b, cfg)
}

// Validate reports the first setting the service cannot run with.
func (c Config) Validate() error {
	if c.Resolver.ProviderTimeoutSec <= 0 {
		return errors.New("config: resolver.provider_timeout_sec must be positive")
	}
	if c.Cache.TTLSec <= 0 {
		return errors.New("config: cache.ttl_sec must be positive")
	}
	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Path == "" {
			return errors.New("config: cache.path is required for the file backend")
		}
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("config: cache.redis_url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}

	if len(c.EnabledProviders()) == 0 {
		return errors.New("config: no provider enabled")
	}
	if c.Chainlink.Enabled {
		if c.Chainlink.RPCURL == "" {
			return errors.New("config: chainlink.rpc_url is required when chainlink is enabled")
		}
		for token, addr := range c.Chainlink.Feeds {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("config: chainlink feed %s: invalid address %q", token, addr)
			}
		}
	}
	return nil
}

// EnabledProviders lists enabled provider names in Resolver.Order, followed
// by any enabled provider the order leaves out.
func (c Config) EnabledProviders() []string {
	enabled := map[string]bool{
		"coingecko": c.CoinGecko.Enabled,
		"binance":   c.Binance.Enabled,
		"uniswap":   c.Uniswap.Enabled,
		"chainlink": c.Chainlink.Enabled,
	}
	out := make([]string, 0, len(enabled))
	seen := make(map[string]bool, len(enabled))
	for _, name := range append(append([]string{}, c.Resolver.Order...), "coingecko", "binance", "uniswap", "chainlink") {
		name = strings.ToLower(strings.TrimSpace(name))
		if enabled[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (r Resolver) ProviderTimeout() time.Duration {
	return time.Duration(r.ProviderTimeoutSec) * time.Second
}

func (c Cache) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

func (l Limits) MinInterval() time.Duration {
	return time.Duration(l.MinRequestIntervalSec) * time.Second
}
