// Package cache holds the short-lived token -> price cache that sits in front
// of the resolver, with optional persistence through a Store.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"priceresolver/internal/metrics"
	"priceresolver/internal/provider"
)

// DefaultTTL is how long a resolved price is served without asking a provider.
const DefaultTTL = 60 * time.Second

// Entry is the last resolved price of a token.
type Entry struct {
	Price     float64
	FetchedAt time.Time
}

// Cache entries are never evicted on their own: stale ones are ignored by Get
// and overwritten by the next Put, so the map grows with every distinct token
// until Prune is called.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	store   Store
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]Entry

	// serializes snapshot+save so an older snapshot never lands last
	saveMu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists every successful Put. Without it the cache is memory-only.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		log:     zerolog.Nop(),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for token only while now - FetchedAt < TTL.
// Stale and unknown tokens are both a miss.
func (c *Cache) Get(token string) (Entry, bool) {
	token = provider.NormalizeToken(token)
	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.FetchedAt) >= c.ttl {
		return Entry{}, false
	}
	return e, true
}

// Put overwrites the entry for token and rewrites the persisted mapping.
// A store error is returned, but the in-memory entry is kept either way.
func (c *Cache) Put(ctx context.Context, token string, price float64, at time.Time) error {
	token = provider.NormalizeToken(token)
	c.mu.Lock()
	c.entries[token] = Entry{Price: price, FetchedAt: at}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.CacheSize(n)

	return c.persist(ctx)
}

// Load replaces the in-memory entries with the persisted mapping. Records
// with an unusable price are dropped.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	records, err := c.store.Load(ctx)
	if err != nil {
		c.metrics.StoreError("load")
		return err
	}
	entries := make(map[string]Entry, len(records))
	for token, r := range records {
		if !provider.ValidPrice(r.Price) {
			continue
		}
		entries[provider.NormalizeToken(token)] = Entry{Price: r.Price, FetchedAt: fromUnixSeconds(r.Timestamp)}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.metrics.CacheSize(len(entries))

	c.log.Debug().Int("entries", len(entries)).Msg("price cache loaded")
	return nil
}

// Len counts every entry, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prune drops entries resolved before the cutoff and persists the result.
func (c *Cache) Prune(ctx context.Context, before time.Time) (int, error) {
	c.mu.Lock()
	removed := 0
	for token, e := range c.entries {
		if e.FetchedAt.Before(before) {
			delete(c.entries, token)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.CacheSize(n)

	if removed == 0 {
		return 0, nil
	}
	return removed, c.persist(ctx)
}

func (c *Cache) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	records := make(map[string]Record, len(c.entries))
	for token, e := range c.entries {
		records[token] = Record{Price: e.Price, Timestamp: toUnixSeconds(e.FetchedAt)}
	}
	c.mu.RUnlock()

	if err := c.store.Save(ctx, records); err != nil {
		c.metrics.StoreError("save")
		return err
	}
	return nil
}
