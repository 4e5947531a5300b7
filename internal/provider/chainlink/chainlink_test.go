package chainlink

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"

	"priceresolver/internal/provider"
)

const ethFeed = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"

// fakeAggregator answers decimals and latestRoundData with ABI-encoded values.
type fakeAggregator struct {
	t         *testing.T
	abi       abi.ABI
	decimals  uint8
	answer    *big.Int
	updatedAt time.Time
	err       error

	decimalCalls atomic.Int64
}

func newFake(t *testing.T) *fakeAggregator {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	require.NoError(t, err)
	return &fakeAggregator{t: t, abi: parsed, decimals: 8, answer: big.NewInt(301234500000), updatedAt: time.Now()}
}

func (f *fakeAggregator) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	require.NotNil(f.t, call.To)
	require.True(f.t, strings.EqualFold(ethFeed, call.To.Hex()))

	switch {
	case bytes.Equal(call.Data[:4], f.abi.Methods["decimals"].ID):
		f.decimalCalls.Add(1)
		return f.abi.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.Equal(call.Data[:4], f.abi.Methods["latestRoundData"].ID):
		ts := big.NewInt(f.updatedAt.Unix())
		return f.abi.Methods["latestRoundData"].Outputs.Pack(big.NewInt(7), f.answer, ts, ts, big.NewInt(7))
	}
	f.t.Fatalf("unexpected selector %x", call.Data[:4])
	return nil, nil
}

func TestFetch_ScalesAnswerByDecimals(t *testing.T) {
	t.Parallel()

	// Arrange
	fake := newFake(t)
	c, err := New(fake, Config{Feeds: map[string]string{"ETH": ethFeed}})
	require.NoError(t, err)

	// Act
	first, err := c.Fetch(t.Context(), "eth")
	require.NoError(t, err)
	second, err := c.Fetch(t.Context(), "eth")
	require.NoError(t, err)

	// Assert
	require.InDelta(t, 3012.345, first, 1e-9)
	require.InDelta(t, first, second, 0)
	require.EqualValues(t, 1, fake.decimalCalls.Load(), "decimals is read once per feed")
}

func TestFetch_RejectsBadRounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(f *fakeAggregator)
		wantErr error
	}{
		{name: "zero answer", mutate: func(f *fakeAggregator) { f.answer = big.NewInt(0) }, wantErr: provider.ErrInvalidPrice},
		{name: "negative answer", mutate: func(f *fakeAggregator) { f.answer = big.NewInt(-5) }, wantErr: provider.ErrInvalidPrice},
		{name: "stale round", mutate: func(f *fakeAggregator) { f.updatedAt = time.Now().Add(-48 * time.Hour) }, wantErr: provider.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(t)
			tt.mutate(fake)
			c, err := New(fake, Config{Feeds: map[string]string{"eth": ethFeed}})
			require.NoError(t, err)

			_, err = c.Fetch(t.Context(), "eth")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetch_UnknownTokenAndRPCFailure(t *testing.T) {
	t.Parallel()

	fake := newFake(t)
	c, err := New(fake, Config{Feeds: map[string]string{"eth": ethFeed}})
	require.NoError(t, err)

	_, err = c.Fetch(t.Context(), "doge")
	require.ErrorIs(t, err, provider.ErrUnknownToken)

	fake.err = errors.New("rpc down")
	_, err = c.Fetch(t.Context(), "eth")
	require.ErrorContains(t, err, "rpc down")
}

func TestNew_ValidatesFeeds(t *testing.T) {
	t.Parallel()

	_, err := New(newFake(t), Config{Feeds: map[string]string{"eth": "not-an-address"}})
	require.Error(t, err)

	c, err := New(newFake(t), Config{})
	require.NoError(t, err)
	require.Len(t, c.feeds, len(DefaultFeeds))
	require.Equal(t, DefaultMaxAge, c.maxAge)
}

func TestDial_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(t.Context(), Config{})
	require.ErrorIs(t, err, provider.ErrNotConfigured)
}
