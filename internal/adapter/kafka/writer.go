package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces mart rows and batch reports to their Kafka topics.
// It implements pipeline.MartSink and pipeline.ReportSink.
type Publisher struct {
	mart   messageWriter
	report messageWriter
	logger *slog.Logger
}

// NewPublisher creates producers for the mart and report topics.
func NewPublisher(brokers []string, martTopic, reportTopic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		mart:   newWriter(brokers, martTopic),
		report: newWriter(brokers, reportTopic),
		logger: logger,
	}
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// WriteMart publishes every evaluated record of a batch in a single
// WriteMessages call. Records keyed by event_id keep one location's reruns on
// one partition.
func (p *Publisher) WriteMart(ctx context.Context, batchID string, records []domain.EvaluatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeMartMessage(batchID, records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.mart.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write mart: %w", err)
	}
	p.logger.Debug("mart rows published", "batch_id", batchID, "count", len(msgs))
	return nil
}

// WriteReport publishes the batch report.
func (p *Publisher) WriteReport(ctx context.Context, report domain.BatchReport) error {
	msg, err := serializeReportMessage(report)
	if err != nil {
		return err
	}
	if err := p.report.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Close flushes and closes both producers.
func (p *Publisher) Close() error {
	martErr := p.mart.Close()
	reportErr := p.report.Close()
	if martErr != nil {
		return martErr
	}
	return reportErr
}

func serializeMartMessage(batchID string, er domain.EvaluatedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(domain.NewMartRow(batchID, er))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize mart row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(er.Record.EventID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "batch_id", Value: []byte(batchID)},
			{Key: "location", Value: []byte(er.Record.LocationName)},
			{Key: "data_quality_score", Value: []byte(strconv.Itoa(er.Quality.Score))},
		},
	}, nil
}

func serializeReportMessage(report domain.BatchReport) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize batch report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(report.BatchID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "overall", Value: []byte(report.Overall)},
			{Key: "generated_at", Value: []byte(report.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
