package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the non-retryable taxonomy. NotFound and
// ConfigurationError surface immediately and are never retried.
var (
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout exceeded")
)

// FailureKind classifies why a single provider candidate failed.
type FailureKind string

const (
	FailureNetwork         FailureKind = "network"
	FailureAuth            FailureKind = "auth"
	FailureRateLimit       FailureKind = "rate_limit"
	FailureCapability      FailureKind = "capability"
	FailureInvalidResponse FailureKind = "invalid_response"
)

// ProviderError wraps one candidate's failure. Rate-limit failures are
// retried against the same candidate with backoff before the router moves
// on; every other kind advances immediately.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the same candidate is worth another attempt.
func (e *ProviderError) Retryable() bool { return e.Kind == FailureRateLimit }

// NewProviderError builds a classified candidate failure.
func NewProviderError(provider string, kind FailureKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// ExhaustedError aggregates every candidate's failure once the router has
// run out of options. Failures preserves attempt order.
type ExhaustedError struct {
	Failures []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all providers exhausted (%d failures): %s",
		len(e.Failures), strings.Join(parts, "; "))
}

// AsProviderError unwraps err into a *ProviderError if it is one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsExhausted reports whether err is an all-candidates-failed aggregate.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
