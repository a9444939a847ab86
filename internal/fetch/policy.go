package fetch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// Policy bounds the retry loop around a single location fetch.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the symmetric fraction applied to each delay, e.g. 0.2 for ±20%.
	Jitter float64
}

// DefaultPolicy is three attempts with 1s, 2s backoff, ±20% jitter, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the wait before attempt n. The first attempt never waits.
// r is a uniform sample in [0, 1) that selects the jitter offset.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 2 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-2))
	d *= 1 + p.Jitter*(2*r-1)
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(math.Round(d))
}

// State is a node in the per-location retry state machine.
type State int

const (
	StateAttempt State = iota
	StateWait
	StateSuccess
	StateNonRetryable
	StateExhausted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAttempt:
		return "attempt"
	case StateWait:
		return "wait"
	case StateSuccess:
		return "success"
	case StateNonRetryable:
		return "non_retryable"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the machine stops in this state.
func (s State) Terminal() bool {
	return s >= StateSuccess
}

// next decides the state that follows attempt n finishing with err.
func (p Policy) next(attempt int, err error, ctxErr error) State {
	if err == nil {
		return StateSuccess
	}
	if ctxErr != nil {
		return StateCancelled
	}
	if !retryable(err) {
		return StateNonRetryable
	}
	if attempt >= p.MaxAttempts {
		return StateExhausted
	}
	return StateWait
}

func retryable(err error) bool {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	// A bare deadline from the per-request timeout is a transient failure.
	return errors.Is(err, context.DeadlineExceeded)
}
