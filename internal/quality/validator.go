// Package quality classifies canonical records against the data contract,
// checks them against rolling baselines, and reduces findings to a score.
package quality

import (
	"fmt"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// Rule ids. These strings double as dq_flags and must stay stable.
const (
	RuleNullEventTimestamp   = "null_event_timestamp"
	RuleNullLocationName     = "null_location_name"
	RuleNullLatitude         = "null_latitude"
	RuleNullLongitude        = "null_longitude"
	RuleMissingFieldPrefix   = "missing_field_"
	RuleOutOfRangeSuffix     = "_out_of_range"
	RuleIncompleteDay        = "incomplete_day"
	RuleDuplicateRecord      = "duplicate_record"
	RuleUnexpectedDailyCount = "unexpected_daily_count"
)

// HoursPerDay is the expected record count for a full calendar day.
const HoursPerDay = 24

// MaxMissingRatio is the tolerated share of missing hourly records per location/day.
const MaxMissingRatio = 0.05

// CompletenessWindow selects how many hourly records a location/day is expected to have.
type CompletenessWindow string

const (
	// WindowRange expects only the hours of each day that fall inside the
	// requested time range, and only counts records inside it.
	WindowRange CompletenessWindow = "range"
	// WindowDay always expects 24 records per calendar day.
	WindowDay CompletenessWindow = "day"
)

// rangeChecked lists fields with declared bounds, in flag order.
var rangeChecked = []domain.Field{
	domain.FieldLatitude,
	domain.FieldLongitude,
	domain.FieldTemperature,
	domain.FieldHumidity,
	domain.FieldPrecipitation,
	domain.FieldWindSpeed,
	domain.FieldWeatherCode,
}

// Validator applies the critical, warning and info rule tiers.
type Validator struct {
	window CompletenessWindow
}

// NewValidator creates a Validator. An unknown window falls back to WindowRange.
func NewValidator(window CompletenessWindow) *Validator {
	if window != WindowDay {
		window = WindowRange
	}
	return &Validator{window: window}
}

// ValidateRecord applies the per-record rules: nulls and absent fields
// (critical) and range bounds (warning).
func (v *Validator) ValidateRecord(r domain.Record) domain.ValidationOutcome {
	var out domain.ValidationOutcome

	if r.EventTimestamp.IsZero() {
		out.Add(critical(RuleNullEventTimestamp, "event_timestamp is null"))
	}
	if r.LocationName == "" {
		out.Add(critical(RuleNullLocationName, "location_name is null"))
	}
	if r.Latitude == nil {
		out.Add(critical(RuleNullLatitude, "latitude is null"))
	}
	if r.Longitude == nil {
		out.Add(critical(RuleNullLongitude, "longitude is null"))
	}
	for _, f := range r.Absent {
		out.Add(critical(RuleMissingFieldPrefix+string(f), fmt.Sprintf("%s absent from provider payload", f)))
	}

	for _, f := range rangeChecked {
		val, ok := r.Value(f)
		if !ok {
			continue
		}
		rng := domain.ValidRanges[f]
		if !rng.Contains(val) {
			out.Add(domain.Finding{
				RuleID:   string(f) + RuleOutOfRangeSuffix,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("%s=%g outside [%g, %g]", f, val, rng.Min, rng.Max),
			})
		}
	}

	return out
}

type dayKey struct {
	location string
	day      time.Time
}

type dayGroup struct {
	indexes  []int
	inWindow int
	distinct map[time.Time]struct{}
}

// ValidateBatch applies record rules to every record plus the batch rules:
// completeness and daily counts per location/day, and duplicate detection.
// Records must be in fetch order; the returned slice is index-aligned with it.
func (v *Validator) ValidateBatch(records []domain.Record, tr domain.TimeRange) []domain.ValidationOutcome {
	outcomes := make([]domain.ValidationOutcome, len(records))
	for i, r := range records {
		outcomes[i] = v.ValidateRecord(r)
	}

	groups := make(map[dayKey]*dayGroup)
	var order []dayKey
	for i, r := range records {
		if r.LocationName == "" || r.EventTimestamp.IsZero() {
			continue
		}
		k := dayKey{location: r.LocationName, day: domain.StartOfDay(r.EventTimestamp)}
		g, ok := groups[k]
		if !ok {
			g = &dayGroup{distinct: make(map[time.Time]struct{})}
			groups[k] = g
			order = append(order, k)
		}
		g.indexes = append(g.indexes, i)
		if v.window == WindowDay || tr.Contains(r.EventTimestamp) {
			g.inWindow++
			g.distinct[r.EventTimestamp.UTC()] = struct{}{}
		}
	}

	for _, k := range order {
		g := groups[k]
		expected := v.expectedHours(k.day, tr)
		if expected == 0 {
			continue
		}

		missing := expected - len(g.distinct)
		if missing < 0 {
			missing = 0
		}
		if float64(missing)/float64(expected) > MaxMissingRatio {
			f := domain.Finding{
				RuleID:   RuleIncompleteDay,
				Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("%s %s: %d of %d hourly records missing",
					k.location, k.day.Format(time.DateOnly), missing, expected),
			}
			for _, i := range g.indexes {
				outcomes[i].Add(f)
			}
		}

		if g.inWindow != expected {
			f := domain.Finding{
				RuleID:   RuleUnexpectedDailyCount,
				Severity: domain.SeverityInfo,
				Message: fmt.Sprintf("%s %s: %d records, expected %d",
					k.location, k.day.Format(time.DateOnly), g.inWindow, expected),
			}
			for _, i := range g.indexes {
				outcomes[i].Add(f)
			}
		}
	}

	type pairKey struct {
		location string
		ts       time.Time
	}
	first := make(map[pairKey]int)
	for i, r := range records {
		if r.LocationName == "" || r.EventTimestamp.IsZero() {
			continue
		}
		k := pairKey{location: r.LocationName, ts: r.EventTimestamp.UTC()}
		if canonical, seen := first[k]; seen {
			outcomes[i].Add(domain.Finding{
				RuleID:   RuleDuplicateRecord,
				Severity: domain.SeverityInfo,
				Message:  fmt.Sprintf("duplicate of record #%d (%s)", canonical, records[canonical].EventID),
			})
			continue
		}
		first[k] = i
	}

	return outcomes
}

func (v *Validator) expectedHours(day time.Time, tr domain.TimeRange) int {
	if v.window == WindowDay {
		return HoursPerDay
	}
	return tr.HoursInDay(day)
}

func critical(rule, msg string) domain.Finding {
	return domain.Finding{RuleID: rule, Severity: domain.SeverityCritical, Message: msg}
}
