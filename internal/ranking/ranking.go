// Package ranking keeps a reliability score per price provider and orders
// providers best-first for the resolver's fallback walk.
package ranking

import (
	"fmt"
	"sort"
	"sync"

	"priceresolver/internal/provider"
)

const (
	InitialScore   = 1.0
	SuccessReward  = 0.05
	FailurePenalty = 0.10
)

// Standing is a read-only view of one provider's position.
type Standing struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Ranking scores are unbounded in both directions. A provider that keeps
// failing sinks without limit and only climbs back through successes.
type Ranking struct {
	providers []provider.Provider // registration order

	mu     sync.RWMutex
	scores map[string]float64
}

// New registers providers in the given order. Names must be unique.
func New(providers []provider.Provider) (*Ranking, error) {
	r := &Ranking{
		providers: make([]provider.Provider, 0, len(providers)),
		scores:    make(map[string]float64, len(providers)),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := r.scores[name]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", name)
		}
		r.scores[name] = InitialScore
		r.providers = append(r.providers, p)
	}
	return r, nil
}

func (r *Ranking) RecordSuccess(name string) { r.adjust(name, SuccessReward) }

func (r *Ranking) RecordFailure(name string) { r.adjust(name, -FailurePenalty) }

func (r *Ranking) adjust(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scores[name]; ok {
		r.scores[name] = s + delta
	}
}

// Ordered returns every provider by descending score. Ties keep registration order.
func (r *Ranking) Ordered() []provider.Provider {
	out := make([]provider.Provider, len(r.providers))
	copy(out, r.providers)

	r.mu.RLock()
	scores := make([]float64, len(out))
	for i, p := range out {
		scores[i] = r.scores[p.Name()]
	}
	r.mu.RUnlock()

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	sorted := make([]provider.Provider, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

func (r *Ranking) Score(name string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scores[name]
	return s, ok
}

// Set overrides a score. Used to seed standings in tests and tooling.
func (r *Ranking) Set(name string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scores[name]; ok {
		r.scores[name] = score
	}
}

// Snapshot lists providers in current order with their scores, rank 1 first.
func (r *Ranking) Snapshot() []Standing {
	ordered := r.Ordered()
	out := make([]Standing, 0, len(ordered))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, p := range ordered {
		out = append(out, Standing{Name: p.Name(), Score: r.scores[p.Name()], Rank: i + 1})
	}
	return out
}

func (r *Ranking) Len() int { return len(r.providers) }
