package quality

import (
	"fmt"
	"math"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
)

// Anomaly flags.
const (
	FlagTemperatureAnomaly = "temperature_anomaly"
	FlagWindSpeedAnomaly   = "wind_speed_anomaly"
	FlagLowSampleBaseline  = "low_sample_baseline"
)

// TrackedFields are the fields with rolling baselines.
var TrackedFields = []domain.Field{domain.FieldTemperature, domain.FieldWindSpeed}

// DefaultSigma is the z-distance beyond which a value is anomalous.
const DefaultSigma = 3.0

// equalTolerance is the relative distance under which a value counts as
// equal to the baseline mean.
const equalTolerance = 1e-9

// StatsReader supplies rolling baselines. *stats.Store satisfies it.
type StatsReader interface {
	Snapshot(location string, field domain.Field) (stats.Snapshot, error)
}

// Detector flags temperature and wind values far from the rolling mean.
type Detector struct {
	sigma float64
}

// NewDetector creates a Detector; non-positive sigma means DefaultSigma.
func NewDetector(sigma float64) *Detector {
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	return &Detector{sigma: sigma}
}

// Detect never fails. A missing or immature baseline yields a
// low_sample_baseline flag instead of a verdict; a null value is skipped.
func (d *Detector) Detect(r domain.Record, baseline StatsReader) domain.AnomalyResult {
	var res domain.AnomalyResult
	res.IsAnomalyTemp = d.check(r, domain.FieldTemperature, FlagTemperatureAnomaly, baseline, &res)
	res.IsAnomalyWind = d.check(r, domain.FieldWindSpeed, FlagWindSpeedAnomaly, baseline, &res)
	return res
}

func (d *Detector) check(r domain.Record, field domain.Field, flag string, baseline StatsReader, res *domain.AnomalyResult) bool {
	v, ok := r.Value(field)
	if !ok {
		return false
	}

	snap, err := baseline.Snapshot(r.LocationName, field)
	if err != nil {
		// stats.ErrInsufficientData; any baseline problem means no verdict.
		addFinding(res, domain.Finding{
			RuleID:   FlagLowSampleBaseline,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("%s baseline has %d samples", field, snap.Count),
		})
		return false
	}

	dev := math.Abs(v - snap.Mean)
	if dev <= equalTolerance*math.Max(1, math.Abs(snap.Mean)) {
		return false
	}
	if dev > d.sigma*snap.StdDev {
		addFinding(res, domain.Finding{
			RuleID:   flag,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("%s=%g deviates from mean %.2f by more than %g×%.2f",
				field, v, snap.Mean, d.sigma, snap.StdDev),
		})
		return true
	}
	return false
}

func addFinding(res *domain.AnomalyResult, f domain.Finding) {
	for _, existing := range res.Findings {
		if existing.RuleID == f.RuleID {
			return
		}
	}
	res.Findings = append(res.Findings, f)
}
