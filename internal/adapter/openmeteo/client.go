// Package openmeteo calls the Open-Meteo historical archive API.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// DefaultBaseURL is the public archive endpoint.
const DefaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

// maxBodyBytes bounds a single response. A 30-day hourly payload is well under 1 MiB.
const maxBodyBytes = 16 << 20

// Client performs one archive request per call behind a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// NewClient creates an archive client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker(logger),
		logger:     logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors and caller cancellation say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return true
			}
			var pe *domain.ProviderError
			if errors.As(err, &pe) {
				return !pe.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// FetchOnce requests hourly observations for loc over tr.
func (c *Client) FetchOnce(ctx context.Context, loc domain.Location, tr domain.TimeRange) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, loc, tr)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.ProviderError{Kind: domain.KindCircuitOpen, Err: err}
	}
	return body, err
}

func (c *Client) requestURL(loc domain.Location, tr domain.TimeRange) string {
	params := url.Values{
		"latitude":   {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"start_date": {tr.StartDate()},
		"end_date":   {tr.EndDate()},
		"hourly":     {strings.Join(domain.ProviderHourlyKeys(), ",")},
		"timezone":   {"GMT"},
	}
	return c.baseURL + "?" + params.Encode()
}

func (c *Client) doRequest(ctx context.Context, loc domain.Location, tr domain.TimeRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(loc, tr), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.ProviderError{Kind: domain.KindRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &domain.ProviderError{
			Kind:       domain.KindHTTP,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorReason(body)),
		}
	}

	if !json.Valid(body) {
		return nil, &domain.ProviderError{Kind: domain.KindMalformed, StatusCode: resp.StatusCode, Err: errors.New("response body is not valid JSON")}
	}
	c.logger.Debug("archive response", "location", loc.Name, "bytes", len(body))
	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.ProviderError{Kind: domain.KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Connection resets and refusals look like a failing upstream.
	return &domain.ProviderError{Kind: domain.KindHTTP, StatusCode: http.StatusBadGateway, Err: err}
}

// errorReason extracts Open-Meteo's {"error":true,"reason":"..."} message.
func errorReason(body []byte) string {
	var e struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &e) == nil && e.Reason != "" {
		return e.Reason
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
