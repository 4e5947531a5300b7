package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
)

var (
	// ErrUnexpectedStatus indicates an upstream answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrInvalidResponse indicates a response body that could not be interpreted.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrUnknownToken indicates the provider has no market for the token.
	ErrUnknownToken = errors.New("unknown token")
	// ErrInvalidPrice indicates a zero, negative or non-finite price.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrNotConfigured indicates a provider missing required settings.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrPanic indicates the provider panicked during Fetch.
	ErrPanic = errors.New("provider panicked")
)

// Kind tags the reason a single provider attempt failed. Every kind counts the
// same for scoring; the tag is kept for logs and metrics.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network"
	KindBadStatus    Kind = "bad_status"
	KindBadResponse  Kind = "bad_response"
	KindInvalidPrice Kind = "invalid_price"
	KindPanic        Kind = "panic"
	KindUnknown      Kind = "unknown"
)

// Failure is the typed result of one failed provider attempt.
type Failure struct {
	Provider string
	Kind     Kind
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify folds any adapter error into a Failure.
func Classify(name string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Provider: name, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrPanic):
		return KindPanic
	case errors.Is(err, ErrInvalidPrice):
		return KindInvalidPrice
	case errors.Is(err, ErrUnexpectedStatus):
		return KindBadStatus
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrUnknownToken):
		return KindBadResponse
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// ValidPrice reports whether p can be handed to callers. Zero is never a
// usable quote and is rejected like any other bad price.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
