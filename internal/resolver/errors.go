package resolver

import (
	"errors"
	"fmt"
	"strings"

	"priceresolver/internal/provider"
)

var (
	// ErrNoProvider is matched by every exhausted resolution.
	ErrNoProvider = errors.New("no provider available")
	// ErrEmptyToken rejects blank tokens before any provider is asked.
	ErrEmptyToken = errors.New("empty token")
)

// ExhaustedError reports that every registered provider failed for Token.
type ExhaustedError struct {
	Token    string
	Failures []*provider.Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s for %s", ErrNoProvider, e.Token)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s for %s: %s", ErrNoProvider, e.Token, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrNoProvider }
