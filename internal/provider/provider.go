package provider

import (
	"context"
	"strings"
)

// Provider is the uniform contract every upstream price source implements.
// Fetch returns the current price of token (lowercase symbol) or an error.
//
//go:generate mockgen -package=mocks -destination=mocks/mock_provider.go -source=provider.go Provider
type Provider interface {
	Name() string
	Fetch(ctx context.Context, token string) (float64, error)
}

// Func adapts a plain function to the Provider interface.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, token string) (float64, error)
}

func (f Func) Name() string { return f.ProviderName }

func (f Func) Fetch(ctx context.Context, token string) (float64, error) {
	if f.Fn == nil {
		return 0, ErrNotConfigured
	}
	return f.Fn(ctx, token)
}

// NormalizeToken is the canonical form of a token symbol used for every
// cache key, score lookup and adapter call.
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
