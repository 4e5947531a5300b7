// Package metrics provides Prometheus metrics for price resolution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeResolved  = "resolved"
	OutcomeExhausted = "exhausted"
	OutcomeRejected  = "rejected"
)

// Metrics groups the resolver collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// ResolutionsTotal counts resolve calls by outcome.
	ResolutionsTotal *prometheus.CounterVec
	// ProviderAttemptsTotal counts adapter calls by provider and outcome (ok or failure kind).
	ProviderAttemptsTotal *prometheus.CounterVec
	// ProviderFetchDuration observes adapter call latency.
	ProviderFetchDuration *prometheus.HistogramVec
	// ProviderScore mirrors the reliability score after every attempt.
	ProviderScore *prometheus.GaugeVec
	// CacheEntries is the number of tokens held by the price cache.
	CacheEntries prometheus.Gauge
	// CacheStoreErrorsTotal counts failed cache load/save operations.
	CacheStoreErrorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_resolutions_total",
				Help: "Total number of price resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ProviderAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_provider_attempts_total",
				Help: "Total number of provider fetch attempts",
			},
			[]string{"provider", "outcome"},
		),
		ProviderFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "price_provider_fetch_duration_seconds",
				Help:    "Duration of provider fetch attempts",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		ProviderScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "price_provider_score",
				Help: "Current reliability score of a provider",
			},
			[]string{"provider"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "price_cache_entries",
				Help: "Number of tokens held in the price cache",
			},
		),
		CacheStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_cache_store_errors_total",
				Help: "Total number of failed cache persistence operations",
			},
			[]string{"op"},
		),
		gatherer: reg,
	}
	reg.MustRegister(
		m.ResolutionsTotal,
		m.ProviderAttemptsTotal,
		m.ProviderFetchDuration,
		m.ProviderScore,
		m.CacheEntries,
		m.CacheStoreErrorsTotal,
	)
	return m
}

func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Attempt(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.ProviderFetchDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) Score(provider string, score float64) {
	if m == nil {
		return
	}
	m.ProviderScore.WithLabelValues(provider).Set(score)
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.CacheStoreErrorsTotal.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
