// Package fetch retrieves one location's raw observations from the provider
// under a bounded, backoff-governed retry policy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// ErrRetriesExhausted wraps the last provider error once every attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Provider performs exactly one upstream request.
type Provider interface {
	FetchOnce(ctx context.Context, loc domain.Location, tr domain.TimeRange) ([]byte, error)
}

// Attempt is the measurement emitted for every provider call.
type Attempt struct {
	Number   int           `json:"number"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
}

// Result is a successful fetch and the attempts it took.
type Result struct {
	Payload  domain.RawPayload
	Attempts []Attempt
}

// Fetcher runs the retry state machine around a Provider.
type Fetcher struct {
	provider Provider
	policy   Policy
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	rand     func() float64
}

// New creates a Fetcher. A zero MaxAttempts falls back to DefaultPolicy.
func New(provider Provider, policy Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &Fetcher{
		provider: provider,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		rand:     rand.Float64,
	}
}

// Fetch returns the raw payload for loc over tr. On failure the returned
// Result still carries the attempts made.
func (f *Fetcher) Fetch(ctx context.Context, loc domain.Location, tr domain.TimeRange) (Result, error) {
	var (
		res     Result
		lastErr error
	)
	state := StateAttempt
	attempt := 0

	for !state.Terminal() {
		switch state {
		case StateAttempt:
			attempt++
			body, err := f.attempt(ctx, loc, tr, attempt, &res)
			if err == nil {
				res.Payload = domain.RawPayload{
					Location:  loc,
					Body:      body,
					FetchedAt: f.clock.Now().UTC(),
				}
			}
			lastErr = err
			state = f.policy.next(attempt, err, ctx.Err())

		case StateWait:
			delay := f.policy.Delay(attempt+1, f.rand())
			f.logger.Warn("fetch attempt failed, retrying",
				"location", loc.Name,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if !f.sleep(ctx, delay) {
				state = StateCancelled
				continue
			}
			state = StateAttempt
		}
	}

	switch state {
	case StateSuccess:
		return res, nil
	case StateExhausted:
		f.logger.Error("fetch retries exhausted", "location", loc.Name, "attempts", attempt, "error", lastErr)
		return res, fmt.Errorf("fetch %s: %w after %d attempts: %w", loc.Name, ErrRetriesExhausted, attempt, lastErr)
	case StateCancelled:
		if ctx.Err() != nil {
			return res, fmt.Errorf("fetch %s: %w", loc.Name, ctx.Err())
		}
		return res, fmt.Errorf("fetch %s: %w", loc.Name, lastErr)
	default:
		f.logger.Error("fetch rejected", "location", loc.Name, "attempt", attempt, "error", lastErr)
		return res, fmt.Errorf("fetch %s: %w", loc.Name, lastErr)
	}
}

func (f *Fetcher) attempt(ctx context.Context, loc domain.Location, tr domain.TimeRange, n int, res *Result) ([]byte, error) {
	start := f.clock.Now()
	body, err := f.provider.FetchOnce(ctx, loc, tr)
	elapsed := f.clock.Since(start)

	outcome := outcomeOf(err)
	res.Attempts = append(res.Attempts, Attempt{Number: n, Duration: elapsed, Outcome: outcome})
	f.metrics.FetchAttempts.WithLabelValues(outcome).Inc()
	f.metrics.FetchAttemptDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	f.logger.Debug("fetch attempt",
		"location", loc.Name,
		"attempt", n,
		"outcome", outcome,
		"duration", elapsed,
	)
	return body, err
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(domain.KindTimeout)
	}
	return "error"
}

// sleep waits on the injected clock. Returns false if ctx ended first.
func (f *Fetcher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-f.clock.After(d):
		return true
	}
}
