// Package alerts delivers batch_failed and schema_drift events.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// DefaultSendTimeout bounds a single alert delivery.
const DefaultSendTimeout = 5 * time.Second

// SQSAPI is the subset of the SQS client used by SQSAlerter.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSAlerter publishes alerts as JSON messages on a queue.
type SQSAlerter struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSQSAlerter creates an SQSAlerter for queueURL.
func NewSQSAlerter(client SQSAPI, queueURL string, logger *slog.Logger) *SQSAlerter {
	return &SQSAlerter{client: client, queueURL: queueURL, timeout: DefaultSendTimeout, logger: logger}
}

// Alert sends one event. It gives up after the send timeout.
func (a *SQSAlerter) Alert(ctx context.Context, ev domain.AlertEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err = a.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(a.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"alert_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send alert to %s: %w", a.queueURL, err)
	}

	a.logger.Info("alert sent", "type", ev.Type, "batch_id", ev.BatchID, "location", ev.Location)
	return nil
}

// LogAlerter writes alerts to the log when no queue is configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// Alert logs the event at warn level.
func (a *LogAlerter) Alert(_ context.Context, ev domain.AlertEvent) error {
	a.logger.Warn("data quality alert",
		"type", ev.Type,
		"batch_id", ev.BatchID,
		"location", ev.Location,
		"detail", ev.Detail,
		"occurred_at", ev.OccurredAt,
	)
	return nil
}
