//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/fetch"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/couchcryptid/weather-quality-etl/internal/pipeline"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

var day = domain.TimeRange{
	Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
}

var tokyo = domain.Location{Name: "Tokyo", Latitude: 35.6815, Longitude: 139.7671, Country: "Japan"}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("dq-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

func readMessages(ctx context.Context, t *testing.T, broker, topic string, n int) []message {
	t.Helper()
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  fmt.Sprintf("test-%s-%d", topic, time.Now().UnixNano()),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([]message, 0, n)
	for len(out) < n {
		msg, err := r.ReadMessage(readCtx)
		require.NoError(t, err, "read from %s", topic)
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		out = append(out, message{Key: string(msg.Key), Value: msg.Value, Headers: headers})
	}
	return out
}

type syntheticProvider struct{}

func (syntheticProvider) FetchOnce(_ context.Context, loc domain.Location, tr domain.TimeRange) ([]byte, error) {
	return openmeteo.Synthesize(loc, tr).Encode(), nil
}

// TestBatchPublishesMartAndReport runs a real batch against a synthetic
// provider and checks what lands on both topics.
func TestBatchPublishesMartAndReport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, "test-mart")
	createTopic(t, broker, "test-reports")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewRealClock()

	pub := kafka.NewPublisher([]string{broker}, "test-mart", "test-reports", logger)
	t.Cleanup(func() { _ = pub.Close() })

	fetcher := fetch.New(syntheticProvider{}, fetch.DefaultPolicy(), clock, logger, metrics)
	o := pipeline.New(fetcher, stats.New(0, 0), pipeline.Sinks{
		Mart:    pub,
		Reports: []pipeline.ReportSink{pub},
	}, pipeline.DefaultOptions(), clock, logger, metrics)

	report, err := o.RunBatch(ctx, []domain.Location{tokyo}, day)
	require.NoError(t, err)
	require.Equal(t, domain.BatchCompleted, report.Overall)
	require.Equal(t, 24, report.RecordsTotal)

	mart := readMessages(ctx, t, broker, "test-mart", 24)
	for _, m := range mart {
		var row map[string]any
		require.NoError(t, json.Unmarshal(m.Value, &row))
		assert.Equal(t, m.Key, row["event_id"])
		assert.Equal(t, "Tokyo", row["location_name"])
		assert.Equal(t, report.BatchID, m.Headers["batch_id"])
		assert.Equal(t, "Tokyo", m.Headers["location"])
		assert.Contains(t, row, "data_quality_score")
		assert.Contains(t, row, "dq_flags")
	}

	reports := readMessages(ctx, t, broker, "test-reports", 1)
	assert.Equal(t, report.BatchID, reports[0].Key)
	assert.Equal(t, "completed", reports[0].Headers["overall"])
	_, err = time.Parse(time.RFC3339, reports[0].Headers["generated_at"])
	require.NoError(t, err)

	var got domain.BatchReport
	require.NoError(t, json.Unmarshal(reports[0].Value, &got))
	assert.Equal(t, report.BatchID, got.BatchID)
	assert.Equal(t, []string{"Tokyo"}, got.FetchedLocations)
	assert.Equal(t, 24, got.RecordsTotal)
}
