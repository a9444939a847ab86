package cloudwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCloudWatch struct {
	mock.Mock
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*cloudwatch.PutMetricDataOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestReporter_WriteReport(t *testing.T) {
	client := new(mockCloudWatch)
	r := NewReporter(client, "")

	var input *cloudwatch.PutMetricDataInput
	client.On("PutMetricData", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*cloudwatch.PutMetricDataInput) }).
		Return(&cloudwatch.PutMetricDataOutput{}, nil)

	report := domain.BatchReport{
		BatchID:         "batch-1",
		RecordsTotal:    72,
		RecordsPassed:   48,
		RecordsFailed:   24,
		MeanScore:       81.5,
		Counts:          domain.SeverityCounts{Critical: 1, Warning: 2},
		FailedLocations: []domain.LocationFailure{{Location: "Singapore", Reason: domain.ReasonRetriesExhausted}},
		Overall:         domain.BatchFailed,
		GeneratedAt:     time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.WriteReport(context.Background(), report))

	require.NotNil(t, input)
	assert.Equal(t, DefaultNamespace, *input.Namespace)

	values := make(map[string]float64, len(input.MetricData))
	for _, d := range input.MetricData {
		values[*d.MetricName] = *d.Value
		assert.Equal(t, report.GeneratedAt, *d.Timestamp)
	}
	assert.InDelta(t, 72, values["RecordsTotal"], 1e-9)
	assert.InDelta(t, 24, values["RecordsFailed"], 1e-9)
	assert.InDelta(t, 81.5, values["MeanQualityScore"], 1e-9)
	assert.InDelta(t, 1, values["LocationsFailed"], 1e-9)
	assert.InDelta(t, 1, values["BatchFailed"], 1e-9)
	assert.InDelta(t, 1, values["CriticalFindings"], 1e-9)
}

func TestReporter_Error(t *testing.T) {
	client := new(mockCloudWatch)
	client.On("PutMetricData", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))

	err := NewReporter(client, "Custom").WriteReport(context.Background(), domain.BatchReport{})
	require.ErrorContains(t, err, "put report metrics")
}
