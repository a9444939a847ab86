package quality

import (
	"sort"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// Penalties per distinct finding. Downstream consumers compare scores across
// reruns, so these values are part of the output contract.
const (
	MaxScore        = 100
	PenaltyCritical = 40
	PenaltyWarning  = 15
	PenaltyInfo     = 5
)

func penalty(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return PenaltyCritical
	case domain.SeverityWarning:
		return PenaltyWarning
	default:
		return PenaltyInfo
	}
}

// Score reduces validation and anomaly findings for one record into a
// QualityResult. Flags are ordered critical, warning, info, then anomaly
// findings; a tag that already appeared is neither repeated nor re-penalized.
func Score(r domain.Record, outcome domain.ValidationOutcome, anomaly domain.AnomalyResult) domain.QualityResult {
	ordered := make([]domain.Finding, len(outcome.Findings))
	copy(ordered, outcome.Findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity < ordered[j].Severity
	})
	ordered = append(ordered, anomaly.Findings...)

	res := domain.QualityResult{
		EventID:       r.EventID,
		Score:         MaxScore,
		Flags:         []string{},
		IsAnomalyTemp: anomaly.IsAnomalyTemp,
		IsAnomalyWind: anomaly.IsAnomalyWind,
		Critical:      outcome.HasCritical(),
	}

	seen := make(map[string]struct{}, len(ordered))
	for _, f := range ordered {
		if _, dup := seen[f.RuleID]; dup {
			continue
		}
		seen[f.RuleID] = struct{}{}
		res.Flags = append(res.Flags, f.RuleID)
		res.Score -= penalty(f.Severity)
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return res
}

// IsAnomalyFlag reports whether a flag came from the anomaly detector's
// deviation check.
func IsAnomalyFlag(flag string) bool {
	return flag == FlagTemperatureAnomaly || flag == FlagWindSpeedAnomaly
}

// Summary holds batch-level aggregates over scored records.
type Summary struct {
	Counts        domain.SeverityCounts
	RecordsTotal  int
	RecordsPassed int
	RecordsFailed int
	MeanScore     float64
}

// Summarize tallies distinct flags per severity and pass/fail per record.
// A record fails when it carries any critical finding.
func Summarize(records []domain.EvaluatedRecord) Summary {
	var sum Summary
	var total int
	for _, er := range records {
		sum.RecordsTotal++
		total += er.Quality.Score
		if er.Quality.Critical {
			sum.RecordsFailed++
		} else {
			sum.RecordsPassed++
		}

		severities := make(map[string]domain.Severity, len(er.Outcome.Findings))
		for _, f := range er.Outcome.Findings {
			severities[f.RuleID] = f.Severity
		}
		for _, flag := range er.Quality.Flags {
			switch {
			case IsAnomalyFlag(flag):
				sum.Counts.Anomaly++
			case flag == FlagLowSampleBaseline:
				sum.Counts.Info++
			default:
				switch severities[flag] {
				case domain.SeverityCritical:
					sum.Counts.Critical++
				case domain.SeverityWarning:
					sum.Counts.Warning++
				default:
					sum.Counts.Info++
				}
			}
		}
	}
	if sum.RecordsTotal > 0 {
		sum.MeanScore = float64(total) / float64(sum.RecordsTotal)
	}
	return sum
}
