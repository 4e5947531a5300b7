// Package chainlink reads USD prices from Chainlink aggregator contracts.
package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"priceresolver/internal/provider"
)

const Name = "chainlink"

// DefaultMaxAge rejects rounds older than a day; most USD feeds heartbeat hourly.
const DefaultMaxAge = 24 * time.Hour

// AggregatorV3Interface, only the two read methods used here.
const aggregatorABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// DefaultFeeds are Ethereum mainnet USD aggregators.
var DefaultFeeds = map[string]string{
	"eth":  "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	"btc":  "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
	"link": "0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c",
	"usdc": "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
	"usdt": "0x3E7d1eAB13ad0104d2750B8863b489D65364e32D",
	"dai":  "0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9",
}

type Config struct {
	RPCURL string
	// Feeds maps a token to its aggregator address.
	Feeds  map[string]string
	MaxAge time.Duration
}

type roundData struct {
	RoundId         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

type Client struct {
	caller ethereum.ContractCaller
	abi    abi.ABI
	feeds  map[string]common.Address
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	decimals map[common.Address]int32
}

// Dial connects to cfg.RPCURL and builds a Client over it.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chainlink: %w: rpc url", provider.ErrNotConfigured)
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainlink: dial rpc: %w", err)
	}
	return New(ec, cfg)
}

func New(caller ethereum.ContractCaller, cfg Config) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chainlink: parse abi: %w", err)
	}
	src := cfg.Feeds
	if len(src) == 0 {
		src = DefaultFeeds
	}
	feeds := make(map[string]common.Address, len(src))
	for token, addr := range src {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chainlink: feed %s: invalid address %q", token, addr)
		}
		feeds[provider.NormalizeToken(token)] = common.HexToAddress(addr)
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &Client{
		caller:   caller,
		abi:      parsed,
		feeds:    feeds,
		maxAge:   cfg.MaxAge,
		now:      time.Now,
		decimals: make(map[common.Address]int32),
	}, nil
}

func (c *Client) Name() string { return Name }

// Fetch returns answer / 10^decimals of the token's latest round. Rounds with
// a non-positive answer or older than the max age are rejected.
func (c *Client) Fetch(ctx context.Context, token string) (float64, error) {
	feed, ok := c.feeds[token]
	if !ok {
		return 0, fmt.Errorf("%w: no feed for %s", provider.ErrUnknownToken, token)
	}

	dec, err := c.feedDecimals(ctx, feed)
	if err != nil {
		return 0, err
	}

	out, err := c.call(ctx, feed, "latestRoundData")
	if err != nil {
		return 0, err
	}
	var round roundData
	if err := c.abi.UnpackIntoInterface(&round, "latestRoundData", out); err != nil {
		return 0, fmt.Errorf("%w: latestRoundData: %v", provider.ErrInvalidResponse, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return 0, fmt.Errorf("%w: answer %v", provider.ErrInvalidPrice, round.Answer)
	}
	if round.UpdatedAt != nil {
		updated := time.Unix(round.UpdatedAt.Int64(), 0)
		if age := c.now().Sub(updated); age > c.maxAge {
			return 0, fmt.Errorf("%w: round is %s old", provider.ErrInvalidPrice, age.Truncate(time.Second))
		}
	}

	price, _ := decimal.NewFromBigInt(round.Answer, -dec).Float64()
	return price, nil
}

func (c *Client) feedDecimals(ctx context.Context, feed common.Address) (int32, error) {
	c.mu.Lock()
	d, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	out, err := c.call(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	vals, err := c.abi.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("%w: decimals: %v", provider.ErrInvalidResponse, err)
	}
	u, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals type %T", provider.ErrInvalidResponse, vals[0])
	}

	c.mu.Lock()
	c.decimals[feed] = int32(u)
	c.mu.Unlock()
	return int32(u), nil
}

func (c *Client) call(ctx context.Context, to common.Address, method string) ([]byte, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty %s result from %s", provider.ErrInvalidResponse, method, to.Hex())
	}
	return out, nil
}
