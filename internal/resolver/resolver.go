// Package resolver answers "what is the price of this token right now" by
// walking price providers best-first until one returns a usable price.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"priceresolver/internal/cache"
	"priceresolver/internal/metrics"
	"priceresolver/internal/provider"
	"priceresolver/internal/ranking"
)

// DefaultProviderTimeout bounds a single adapter call.
const DefaultProviderTimeout = 10 * time.Second

// SourceCache is the Quote.Source of a cache hit.
const SourceCache = "cache"

// Quote is a resolved price.
type Quote struct {
	Token      string    `json:"token"`
	Price      float64   `json:"price"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
	Cached     bool      `json:"cached"`
}

// Engine is safe for concurrent use. Concurrent misses for the same token are
// not coalesced: each call walks the providers on its own.
type Engine struct {
	ranking *ranking.Ranking
	cache   *cache.Cache
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithProviderTimeout sets the deadline of each adapter call.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over providers in registration order. A nil cache
// gets a memory-only cache with the default TTL.
func New(providers []provider.Provider, c *cache.Cache, opts ...Option) (*Engine, error) {
	r, err := ranking.New(providers)
	if err != nil {
		return nil, err
	}
	if r.Len() == 0 {
		return nil, errors.New("resolver: no providers configured")
	}
	if c == nil {
		c = cache.New(cache.DefaultTTL)
	}
	e := &Engine{
		ranking: r,
		cache:   c,
		timeout: DefaultProviderTimeout,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range r.Snapshot() {
		e.metrics.Score(s.Name, s.Score)
	}
	return e, nil
}

func (e *Engine) Ranking() *ranking.Ranking { return e.ranking }

func (e *Engine) Cache() *cache.Cache { return e.cache }

// Standings is a read-only view of the current ranking.
func (e *Engine) Standings() []ranking.Standing { return e.ranking.Snapshot() }

// GetPrice is Resolve without the metadata.
func (e *Engine) GetPrice(ctx context.Context, token string) (float64, error) {
	q, err := e.Resolve(ctx, token)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

// Resolve returns a fresh cached price, or the first usable price from the
// providers in ranking order. Every attempt adjusts that provider's score.
// When all providers fail the error is an *ExhaustedError and the cache is
// left untouched.
func (e *Engine) Resolve(ctx context.Context, token string) (Quote, error) {
	token = provider.NormalizeToken(token)
	if token == "" {
		e.metrics.Resolution(metrics.OutcomeRejected)
		return Quote{}, ErrEmptyToken
	}

	if entry, ok := e.cache.Get(token); ok {
		e.metrics.Resolution(metrics.OutcomeCacheHit)
		e.log.Debug().Str("token", token).Float64("price", entry.Price).Msg("price cache hit")
		return Quote{Token: token, Price: entry.Price, Source: SourceCache, ResolvedAt: entry.FetchedAt, Cached: true}, nil
	}

	var failures []*provider.Failure
	for _, p := range e.ranking.Ordered() {
		name := p.Name()
		start := time.Now()
		price, failure := e.attempt(ctx, p, token)
		took := time.Since(start)

		if failure != nil {
			// The caller gave up; that is not the provider's fault.
			if err := ctx.Err(); err != nil {
				return Quote{}, fmt.Errorf("resolve %s: %w", token, err)
			}
			e.ranking.RecordFailure(name)
			e.observe(name, string(failure.Kind), took)
			e.log.Warn().Str("token", token).Str("provider", name).Str("kind", string(failure.Kind)).
				Err(failure.Err).Msg("price provider failed")
			failures = append(failures, failure)
			continue
		}

		e.ranking.RecordSuccess(name)
		e.observe(name, "ok", took)

		at := e.now()
		if err := e.cache.Put(ctx, token, price, at); err != nil {
			e.log.Warn().Str("token", token).Err(err).Msg("price cache persist failed")
		}
		e.metrics.Resolution(metrics.OutcomeResolved)
		e.log.Debug().Str("token", token).Str("provider", name).Float64("price", price).Msg("price resolved")
		return Quote{Token: token, Price: price, Source: name, ResolvedAt: at}, nil
	}

	e.metrics.Resolution(metrics.OutcomeExhausted)
	err := &ExhaustedError{Token: token, Failures: failures}
	e.log.Error().Str("token", token).Int("attempts", len(failures)).Msg("all price providers failed")
	return Quote{}, err
}

func (e *Engine) observe(name, outcome string, took time.Duration) {
	e.metrics.Attempt(name, outcome, took)
	if s, ok := e.ranking.Score(name); ok {
		e.metrics.Score(name, s)
	}
}

type fetchResult struct {
	price float64
	err   error
}

// attempt runs one adapter call in its own goroutine so an adapter that
// ignores ctx cannot hold the walk past the timeout. No engine lock is held here.
func (e *Engine) attempt(ctx context.Context, p provider.Provider, token string) (float64, *provider.Failure) {
	name := p.Name()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("%w: %v", provider.ErrPanic, r)}
			}
		}()
		price, err := p.Fetch(ctx, token)
		done <- fetchResult{price: price, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, provider.Classify(name, r.err)
		}
		if !provider.ValidPrice(r.price) {
			return 0, &provider.Failure{
				Provider: name,
				Kind:     provider.KindInvalidPrice,
				Err:      fmt.Errorf("%w: %v", provider.ErrInvalidPrice, r.price),
			}
		}
		return r.price, nil
	case <-ctx.Done():
		return 0, &provider.Failure{Provider: name, Kind: provider.KindTimeout, Err: ctx.Err()}
	}
}
