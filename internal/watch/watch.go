// Package watch periodically resolves a fixed list of tokens and logs the
// outcome.
package watch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"priceresolver/internal/provider"
	"priceresolver/internal/resolver"
)

const defaultConcurrency = 4

type Resolver interface {
	Resolve(ctx context.Context, token string) (resolver.Quote, error)
}

// Result is the outcome for one token of one tick.
type Result struct {
	Token string
	Quote resolver.Quote
	Err   error
}

type Job struct {
	engine      Resolver
	tokens      []string
	log         zerolog.Logger
	concurrency int
	timeout     time.Duration
	running     atomic.Bool

	// OnResult, when set, receives every result after it is logged.
	OnResult func(Result)
}

// New returns a job over tokens; blank and duplicate tokens are dropped.
func New(engine Resolver, tokens []string, log zerolog.Logger) *Job {
	seen := make(map[string]bool, len(tokens))
	var list []string
	for _, t := range tokens {
		t = provider.NormalizeToken(t)
		if t != "" && !seen[t] {
			seen[t] = true
			list = append(list, t)
		}
	}
	return &Job{engine: engine, tokens: list, log: log, concurrency: defaultConcurrency, timeout: time.Minute}
}

func (j *Job) Tokens() []string { return append([]string(nil), j.tokens...) }

// Run resolves every token once, a few at a time, and returns the results in
// token order. A tick that starts while the previous one is still running is
// skipped and returns nil.
func (j *Job) Run(ctx context.Context) []Result {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("previous watch tick still running, skipping")
		return nil
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	results := make([]Result, len(j.tokens))
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i, token := range j.tokens {
		g.Go(func() error {
			q, err := j.engine.Resolve(ctx, token)
			results[i] = Result{Token: token, Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			j.log.Error().Str("token", r.Token).Err(r.Err).Msg("watch: price unavailable")
		} else {
			j.log.Info().Str("token", r.Token).Float64("price", r.Quote.Price).Str("source", r.Quote.Source).
				Bool("cached", r.Quote.Cached).Msg("watch: price")
		}
		if j.OnResult != nil {
			j.OnResult(r)
		}
	}
	return results
}

// Schedule runs job on the cron spec (standard five fields or descriptors
// such as "@every 1m") until ctx is done, then waits for a running tick.
func Schedule(ctx context.Context, spec string, job *Job) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { job.Run(ctx) }); err != nil {
		return fmt.Errorf("watch: schedule %q: %w", spec, err)
	}
	job.log.Info().Str("schedule", spec).Strs("tokens", job.tokens).Msg("watch started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	job.log.Info().Msg("watch stopped")
	return nil
}
