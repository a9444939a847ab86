package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderErrorKind classifies a failed provider call.
type ProviderErrorKind string

const (
	KindTimeout     ProviderErrorKind = "timeout"
	KindHTTP        ProviderErrorKind = "http_error"
	KindRateLimited ProviderErrorKind = "rate_limited"
	KindMalformed   ProviderErrorKind = "malformed_response"
	KindCircuitOpen ProviderErrorKind = "circuit_open"
)

// ProviderError is a failed attempt against the upstream provider.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Client errors and
// malformed bodies are deterministic, so only timeouts, throttling and 5xx retry.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited:
		return true
	case KindHTTP:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// SchemaError reports a payload that cannot be mapped onto the canonical shape.
type SchemaError struct {
	Location       string
	MissingFields  []string
	TypeMismatches []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.TypeMismatches) > 0 {
		parts = append(parts, "type mismatch "+strings.Join(e.TypeMismatches, ", "))
	}
	return fmt.Sprintf("schema error for %q: %s", e.Location, strings.Join(parts, "; "))
}

func (e *SchemaError) empty() bool {
	return len(e.MissingFields) == 0 && len(e.TypeMismatches) == 0
}
