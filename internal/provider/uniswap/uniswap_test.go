package uniswap

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"priceresolver/internal/provider"
)

type graphRequest struct {
	Query     string `json:"query"`
	Variables struct {
		Symbols []string `json:"symbols"`
	} `json:"variables"`
}

func TestFetch_MultipliesDerivedETH(t *testing.T) {
	t.Parallel()

	// Arrange
	var got graphRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer graph-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"data":{
			"tokens":[{"id":"0x1f98","symbol":"UNI","derivedETH":"0.0025"}],
			"bundle":{"ethPriceUSD":"3000.5"}}}`))
	}))
	defer srv.Close()
	c := New(Config{Endpoint: srv.URL, APIKey: "graph-key"}, nil)

	// Act
	price, err := c.Fetch(t.Context(), "uni")

	// Assert
	require.NoError(t, err)
	require.InDelta(t, 7.50125, price, 1e-9)
	require.Equal(t, []string{"UNI", "uni"}, got.Variables.Symbols)
	require.Contains(t, got.Query, "ethPriceUSD")
}

func TestSymbols_WrappedNative(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"WETH"}, symbols("eth"))
	require.Equal(t, []string{"WBTC"}, symbols("btc"))
}

func TestParse_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "graphql error", body: `{"errors":[{"message":"indexing error"}]}`, wantErr: provider.ErrInvalidResponse},
		{name: "no data", body: `{"data":null}`, wantErr: provider.ErrInvalidResponse},
		{name: "no token", body: `{"data":{"tokens":[],"bundle":{"ethPriceUSD":"3000"}}}`, wantErr: provider.ErrUnknownToken},
		{name: "bad bundle", body: `{"data":{"tokens":[{"derivedETH":"1"}],"bundle":null}}`, wantErr: provider.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.body), "x")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
