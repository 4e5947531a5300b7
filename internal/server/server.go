// Package server exposes the resolver over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"priceresolver/internal/metrics"
	"priceresolver/internal/provider"
	"priceresolver/internal/ranking"
	"priceresolver/internal/resolver"
)

// maxBatch caps the tokens of one batch request.
const maxBatch = 100

// PriceResolver is what the handlers need from the engine.
type PriceResolver interface {
	Resolve(ctx context.Context, token string) (resolver.Quote, error)
	Standings() []ranking.Standing
}

type Options struct {
	// RequestTimeout bounds one request, including every provider it walks.
	RequestTimeout time.Duration
	// MetricsPath serves Prometheus metrics when Metrics is set.
	MetricsPath string
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

type handler struct {
	engine  PriceResolver
	timeout time.Duration
	log     zerolog.Logger
}

// New returns the HTTP handler for engine.
func New(engine PriceResolver, opts Options) http.Handler {
	h := &handler{engine: engine, timeout: opts.RequestTimeout, log: opts.Log}
	if h.timeout <= 0 {
		h.timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(withRequestID, accessLog(opts.Log), withJSONHeaders, withGzip, recoverPanic(opts.Log), limitBody)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/price/{token}", h.getPrice)
	r.Get("/api/prices", h.getPrices)
	r.Post("/api/prices", h.postPrices)
	r.Get("/api/providers", h.getProviders)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics.Handler())
	}
	return r
}

type errorBody struct {
	Error     string `json:"error"`
	Token     string `json:"token,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	token := provider.NormalizeToken(chi.URLParam(r, "token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: resolver.ErrEmptyToken.Error(), RequestID: RequestID(r.Context())})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	q, err := h.engine.Resolve(ctx, token)
	if err != nil {
		status := statusFor(err)
		h.log.Warn().Str("request_id", RequestID(r.Context())).Str("token", token).Err(err).Msg("price request failed")
		writeJSON(w, status, errorBody{Error: err.Error(), Token: token, RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type batchBody struct {
	Tokens []string `json:"tokens"`
}

// batchItem is one token of a batch response; exactly one of Quote or Error is set.
type batchItem struct {
	*resolver.Quote
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Prices []batchItem `json:"prices"`
}

func (h *handler) getPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("tokens")
	if strings.TrimSpace(q) == "" {
		http.Error(w, "missing tokens query param", http.StatusBadRequest)
		return
	}
	h.writeBatch(w, r, splitCSV(q))
}

func (h *handler) postPrices(w http.ResponseWriter, r *http.Request) {
	var b batchBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(b.Tokens) == 0 {
		http.Error(w, "tokens cannot be empty", http.StatusBadRequest)
		return
	}
	h.writeBatch(w, r, b.Tokens)
}

// writeBatch resolves every distinct token concurrently. When no token
// resolved the response is 504 if every token ran out of time, else 502.
func (h *handler) writeBatch(w http.ResponseWriter, r *http.Request, tokens []string) {
	tokens = dedupe(tokens)
	if len(tokens) == 0 {
		http.Error(w, "tokens cannot be empty", http.StatusBadRequest)
		return
	}
	if len(tokens) > maxBatch {
		http.Error(w, "too many tokens", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items := make([]batchItem, len(tokens))
	errs := make([]error, len(tokens))
	var g errgroup.Group
	g.SetLimit(8)
	for i, token := range tokens {
		g.Go(func() error {
			q, err := h.engine.Resolve(ctx, token)
			if err != nil {
				errs[i] = err
				items[i] = batchItem{Token: token, Error: err.Error()}
				return nil
			}
			items[i] = batchItem{Quote: &q, Token: q.Token}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, batchStatus(errs), batchResponse{Prices: items})
}

func batchStatus(errs []error) int {
	timedOut := 0
	for _, err := range errs {
		switch {
		case err == nil:
			return http.StatusOK
		case errors.Is(err, context.DeadlineExceeded):
			timedOut++
		}
	}
	if timedOut == len(errs) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (h *handler) getProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Standings())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, resolver.ErrEmptyToken):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrNoProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = provider.NormalizeToken(t)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
