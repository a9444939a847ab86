package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Event optionally overrides the default history range. Dates are inclusive
// calendar days in UTC.
type Event struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Response mirrors an API Gateway style result so invokers can branch on the status.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type responseBody struct {
	Message   string              `json:"message"`
	Timestamp time.Time           `json:"timestamp"`
	Report    *domain.BatchReport `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// batchRunner is the part of app.App the handler needs.
type batchRunner interface {
	DefaultRange() domain.TimeRange
	Run(ctx context.Context, tr domain.TimeRange) (domain.BatchReport, error)
}

func newHandler(runner batchRunner, clock clockwork.Clock, logger *slog.Logger) func(ctx context.Context, ev Event) (Response, error) {
	return func(ctx context.Context, ev Event) (Response, error) {
		var requestID string
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			requestID = lc.AwsRequestID
		}
		logger.InfoContext(ctx, "lambda invoked", "request_id", requestID,
			"start_date", ev.StartDate, "end_date", ev.EndDate)

		tr, err := ev.timeRange(runner.DefaultRange())
		if err != nil {
			return respond(http.StatusInternalServerError, responseBody{
				Message: "invalid event", Error: err.Error(), RequestID: requestID, Timestamp: clock.Now().UTC(),
			}), nil
		}

		report, err := runner.Run(ctx, tr)
		if err != nil {
			logger.ErrorContext(ctx, "batch did not run", "error", err)
			return respond(http.StatusInternalServerError, responseBody{
				Message: "weather quality batch did not run", Error: err.Error(),
				RequestID: requestID, Timestamp: clock.Now().UTC(),
			}), nil
		}

		if !report.Succeeded() {
			return respond(http.StatusInternalServerError, responseBody{
				Message:   "weather quality batch failed",
				Report:    &report,
				Error:     fmt.Sprintf("%d records with critical findings", report.RecordsFailed),
				RequestID: requestID,
				Timestamp: clock.Now().UTC(),
			}), nil
		}
		return respond(http.StatusOK, responseBody{
			Message:   "weather quality batch completed",
			Report:    &report,
			Timestamp: clock.Now().UTC(),
		}), nil
	}
}

func respond(status int, body responseBody) Response {
	b, err := json.Marshal(body)
	if err != nil {
		b = []byte(`{"message":"unencodable response"}`)
	}
	return Response{StatusCode: status, Body: string(b)}
}

// timeRange resolves the event's dates. A missing start or end keeps the
// corresponding bound of def.
func (ev Event) timeRange(def domain.TimeRange) (domain.TimeRange, error) {
	start, end := def.Start, def.End
	if ev.StartDate != "" {
		t, err := time.Parse(time.DateOnly, ev.StartDate)
		if err != nil {
			return domain.TimeRange{}, fmt.Errorf("start_date: %w", err)
		}
		start = t
	}
	if ev.EndDate != "" {
		t, err := time.Parse(time.DateOnly, ev.EndDate)
		if err != nil {
			return domain.TimeRange{}, fmt.Errorf("end_date: %w", err)
		}
		end = t.AddDate(0, 0, 1)
	}
	return domain.NewTimeRange(start, end)
}
