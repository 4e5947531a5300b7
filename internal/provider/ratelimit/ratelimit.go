// Package ratelimit wraps providers so upstream request quotas are respected.
// A wrapped provider keeps the inner provider's name, so the ranking sees it
// as the same source.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"priceresolver/internal/provider"
)

// MinInterval enforces a minimum time between the starts of two calls.
// Concurrent callers queue for consecutive slots, or return early if their
// context is canceled first.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, token string) (float64, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-t.C:
			}
		}
	}
	return m.P.Fetch(ctx, token)
}

// Limited gates calls through a token bucket.
type Limited struct {
	P       provider.Provider
	Limiter *rate.Limiter
}

// PerMinute builds a Limited allowing rpm calls per minute with the given
// burst. rpm <= 0 disables limiting and returns p unchanged.
func PerMinute(p provider.Provider, rpm, burst int) provider.Provider {
	if rpm <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{P: p, Limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (l *Limited) Name() string { return l.P.Name() }

// Fetch waits for a token. A wait that would outlast the context deadline
// fails immediately instead of sleeping first.
func (l *Limited) Fetch(ctx context.Context, token string) (float64, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	return l.P.Fetch(ctx, token)
}

// Wrap prefers the token bucket when rpm is set and falls back to a plain
// minimum interval otherwise.
func Wrap(p provider.Provider, rpm, burst int, minInterval time.Duration) provider.Provider {
	if rpm > 0 {
		return PerMinute(p, rpm, burst)
	}
	if minInterval > 0 {
		return &MinInterval{P: p, Interval: minInterval}
	}
	return p
}
