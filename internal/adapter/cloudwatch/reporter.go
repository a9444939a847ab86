// Package cloudwatch publishes batch report figures as CloudWatch metrics,
// for deployments where Prometheus cannot scrape the process.
package cloudwatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// DefaultNamespace is used when none is configured.
const DefaultNamespace = "WeatherDataQuality"

// API abstracts the CloudWatch PutMetricData operation.
type API interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Reporter implements pipeline.ReportSink.
type Reporter struct {
	client    API
	namespace string
}

// NewReporter creates a Reporter. An empty namespace falls back to DefaultNamespace.
func NewReporter(client API, namespace string) *Reporter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Reporter{client: client, namespace: namespace}
}

// WriteReport emits one datum per report figure, all at the report's timestamp.
func (r *Reporter) WriteReport(ctx context.Context, report domain.BatchReport) error {
	batchFailed := 0.0
	if report.Overall == domain.BatchFailed {
		batchFailed = 1
	}

	figures := []struct {
		name  string
		value float64
		unit  cwtypes.StandardUnit
	}{
		{"RecordsTotal", float64(report.RecordsTotal), cwtypes.StandardUnitCount},
		{"RecordsPassed", float64(report.RecordsPassed), cwtypes.StandardUnitCount},
		{"RecordsFailed", float64(report.RecordsFailed), cwtypes.StandardUnitCount},
		{"MeanQualityScore", report.MeanScore, cwtypes.StandardUnitNone},
		{"CriticalFindings", float64(report.Counts.Critical), cwtypes.StandardUnitCount},
		{"WarningFindings", float64(report.Counts.Warning), cwtypes.StandardUnitCount},
		{"InfoFindings", float64(report.Counts.Info), cwtypes.StandardUnitCount},
		{"AnomalyFindings", float64(report.Counts.Anomaly), cwtypes.StandardUnitCount},
		{"LocationsFailed", float64(len(report.FailedLocations)), cwtypes.StandardUnitCount},
		{"BatchFailed", batchFailed, cwtypes.StandardUnitCount},
	}

	data := make([]cwtypes.MetricDatum, 0, len(figures))
	for _, f := range figures {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(f.name),
			Value:      aws.Float64(f.value),
			Unit:       f.unit,
			Timestamp:  aws.Time(report.GeneratedAt),
		})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put report metrics: %w", err)
	}
	return nil
}
