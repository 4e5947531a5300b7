package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"priceresolver/internal/provider"
)

type stub struct{ calls *atomic.Int64 }

func (s *stub) Name() string { return "inner" }

func (s *stub) Fetch(context.Context, string) (float64, error) {
	s.calls.Add(1)
	return 1, nil
}

func counting(calls *atomic.Int64) provider.Provider { return &stub{calls: calls} }

func TestMinInterval_SpacesCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	m := &MinInterval{P: counting(&calls), Interval: 40 * time.Millisecond}
	require.Equal(t, "inner", m.Name())

	start := time.Now()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Fetch(context.Background(), "eth")
		}()
	}
	wg.Wait()

	require.EqualValues(t, 3, calls.Load())
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestMinInterval_ContextCanceled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	m := &MinInterval{P: counting(&calls), Interval: time.Hour}
	_, err := m.Fetch(t.Context(), "eth")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Fetch(ctx, "eth")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, calls.Load())
}

func TestLimited_BurstThenBlocks(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	l := &Limited{P: counting(&calls), Limiter: rate.NewLimiter(rate.Every(time.Hour), 2)}

	for range 2 {
		_, err := l.Fetch(t.Context(), "eth")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Fetch(ctx, "eth")
	require.Error(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestPerMinute_DisabledReturnsInner(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	inner := counting(&calls)
	require.Same(t, inner, PerMinute(inner, 0, 5))

	wrapped := Wrap(inner, 60, 0, time.Millisecond)
	l, ok := wrapped.(*Limited)
	require.True(t, ok)
	require.Equal(t, 1, l.Limiter.Burst())
	require.Same(t, inner, l.P)
	require.Equal(t, "inner", wrapped.Name())

	require.IsType(t, &MinInterval{}, Wrap(inner, 0, 0, time.Second))
	require.Same(t, inner, Wrap(inner, 0, 0, 0))
}
