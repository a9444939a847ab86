package quality

import (
	"testing"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func cleanRecord(loc string, ts time.Time) domain.Record {
	return domain.Record{
		EventID:         domain.EventID(loc, ts),
		LocationName:    loc,
		Latitude:        ptr(35.68),
		Longitude:       ptr(139.77),
		EventTimestamp:  ts,
		TemperatureC:    ptr(21.0),
		HumidityPct:     ptr(70.0),
		PrecipitationMM: ptr(0.0),
		WindSpeedKmh:    ptr(8.0),
		WeatherCode:     ptr(3),
	}
}

func fullDay(loc string, d time.Time) []domain.Record {
	recs := make([]domain.Record, 24)
	for h := range recs {
		recs[h] = cleanRecord(loc, d.Add(time.Duration(h)*time.Hour))
	}
	return recs
}

func ruleIDs(o domain.ValidationOutcome) []string {
	ids := make([]string, 0, len(o.Findings))
	for _, f := range o.Findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

func TestValidateRecord_Clean(t *testing.T) {
	v := NewValidator(WindowRange)
	out := v.ValidateRecord(cleanRecord("Tokyo", day))
	assert.Empty(t, out.Findings)
	assert.False(t, out.HasCritical())
}

func TestValidateRecord_CriticalTier(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Record)
		want   []string
	}{
		{"null timestamp", func(r *domain.Record) { r.EventTimestamp = time.Time{} }, []string{RuleNullEventTimestamp}},
		{"null location", func(r *domain.Record) { r.LocationName = "" }, []string{RuleNullLocationName}},
		{"null latitude", func(r *domain.Record) { r.Latitude = nil }, []string{RuleNullLatitude}},
		{"null longitude", func(r *domain.Record) { r.Longitude = nil }, []string{RuleNullLongitude}},
		{
			"absent field",
			func(r *domain.Record) { r.WindSpeedKmh = nil; r.Absent = []domain.Field{domain.FieldWindSpeed} },
			[]string{"missing_field_wind_speed_kmh"},
		},
		{
			"all identity nulls",
			func(r *domain.Record) {
				r.EventTimestamp = time.Time{}
				r.LocationName = ""
				r.Latitude = nil
				r.Longitude = nil
			},
			[]string{RuleNullEventTimestamp, RuleNullLocationName, RuleNullLatitude, RuleNullLongitude},
		},
	}

	v := NewValidator(WindowRange)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := cleanRecord("Tokyo", day)
			tt.mutate(&r)
			out := v.ValidateRecord(r)
			assert.Equal(t, tt.want, ruleIDs(out))
			assert.True(t, out.HasCritical())
			for _, f := range out.Findings {
				assert.Equal(t, domain.SeverityCritical, f.Severity)
			}
		})
	}
}

func TestValidateRecord_NullMeasurementIsNotAFinding(t *testing.T) {
	r := cleanRecord("Tokyo", day)
	r.TemperatureC = nil
	r.WeatherCode = nil
	out := NewValidator(WindowRange).ValidateRecord(r)
	assert.Empty(t, out.Findings)
}

func TestValidateRecord_RangeWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Record)
		want   string
	}{
		{"latitude", func(r *domain.Record) { r.Latitude = ptr(90.5) }, "latitude_out_of_range"},
		{"longitude", func(r *domain.Record) { r.Longitude = ptr(-181.0) }, "longitude_out_of_range"},
		{"temperature high", func(r *domain.Record) { r.TemperatureC = ptr(60.1) }, "temperature_c_out_of_range"},
		{"temperature low", func(r *domain.Record) { r.TemperatureC = ptr(-60.5) }, "temperature_c_out_of_range"},
		{"humidity", func(r *domain.Record) { r.HumidityPct = ptr(101.0) }, "humidity_pct_out_of_range"},
		{"precipitation", func(r *domain.Record) { r.PrecipitationMM = ptr(-0.1) }, "precipitation_mm_out_of_range"},
		{"wind", func(r *domain.Record) { r.WindSpeedKmh = ptr(400.1) }, "wind_speed_kmh_out_of_range"},
		{"weather code", func(r *domain.Record) { r.WeatherCode = ptr(100) }, "weather_code_out_of_range"},
	}

	v := NewValidator(WindowRange)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := cleanRecord("Tokyo", day)
			tt.mutate(&r)
			out := v.ValidateRecord(r)
			require.Len(t, out.Findings, 1)
			assert.Equal(t, tt.want, out.Findings[0].RuleID)
			assert.Equal(t, domain.SeverityWarning, out.Findings[0].Severity)
			assert.False(t, out.HasCritical())
		})
	}
}

func TestValidateRecord_BoundsAreInclusive(t *testing.T) {
	r := cleanRecord("Tokyo", day)
	r.Latitude = ptr(-90.0)
	r.Longitude = ptr(180.0)
	r.TemperatureC = ptr(60.0)
	r.HumidityPct = ptr(0.0)
	r.PrecipitationMM = ptr(500.0)
	r.WindSpeedKmh = ptr(400.0)
	r.WeatherCode = ptr(99)
	assert.Empty(t, NewValidator(WindowRange).ValidateRecord(r).Findings)
}

func TestValidateBatch_FullDayIsClean(t *testing.T) {
	v := NewValidator(WindowRange)
	tr := domain.TimeRange{Start: day, End: day.Add(24 * time.Hour)}

	outcomes := v.ValidateBatch(fullDay("Tokyo", day), tr)
	require.Len(t, outcomes, 24)
	for _, o := range outcomes {
		assert.Empty(t, o.Findings)
	}
}

func TestValidateBatch_Duplicates(t *testing.T) {
	v := NewValidator(WindowDay)
	tr := domain.TimeRange{Start: day, End: day.Add(24 * time.Hour)}

	recs := fullDay("Tokyo", day)
	recs = append(recs, cleanRecord("Tokyo", day.Add(3*time.Hour)), cleanRecord("Tokyo", day.Add(3*time.Hour)))

	outcomes := v.ValidateBatch(recs, tr)
	require.Len(t, outcomes, len(recs), "no record is dropped")

	assert.NotContains(t, ruleIDs(outcomes[3]), RuleDuplicateRecord, "first occurrence is canonical")
	assert.Contains(t, ruleIDs(outcomes[24]), RuleDuplicateRecord)
	assert.Contains(t, ruleIDs(outcomes[25]), RuleDuplicateRecord)
	for i := 0; i < 24; i++ {
		assert.NotContains(t, ruleIDs(outcomes[i]), RuleDuplicateRecord)
	}

	// 26 records on the day: count deviates but completeness is satisfied.
	assert.Contains(t, ruleIDs(outcomes[0]), RuleUnexpectedDailyCount)
	assert.NotContains(t, ruleIDs(outcomes[0]), RuleIncompleteDay)
}

func TestValidateBatch_DuplicatesAcrossLocationsAreDistinct(t *testing.T) {
	v := NewValidator(WindowRange)
	tr := domain.TimeRange{Start: day, End: day.Add(24 * time.Hour)}
	recs := append(fullDay("Tokyo", day), fullDay("Singapore", day)...)

	for _, o := range v.ValidateBatch(recs, tr) {
		assert.Empty(t, o.Findings)
	}
}

func TestValidateBatch_Completeness(t *testing.T) {
	tr := domain.TimeRange{Start: day, End: day.Add(24 * time.Hour)}

	tests := []struct {
		name         string
		drop         int
		wantWarning  bool
		wantCountMsg bool
	}{
		{"one missing is within 5%", 1, false, true},
		{"two missing exceeds 5%", 2, true, true},
		{"none missing", 0, false, false},
	}

	v := NewValidator(WindowRange)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := fullDay("Tokyo", day)[tt.drop:]
			outcomes := v.ValidateBatch(recs, tr)
			for _, o := range outcomes {
				ids := ruleIDs(o)
				if tt.wantWarning {
					assert.Contains(t, ids, RuleIncompleteDay)
				} else {
					assert.NotContains(t, ids, RuleIncompleteDay)
				}
				if tt.wantCountMsg {
					assert.Contains(t, ids, RuleUnexpectedDailyCount)
				} else {
					assert.NotContains(t, ids, RuleUnexpectedDailyCount)
				}
			}
		})
	}
}

func TestValidateBatch_CompletenessIsPerLocationDay(t *testing.T) {
	v := NewValidator(WindowRange)
	next := day.Add(24 * time.Hour)
	tr := domain.TimeRange{Start: day, End: next.Add(24 * time.Hour)}

	recs := append(fullDay("Tokyo", day), fullDay("Tokyo", next)[:12]...)
	outcomes := v.ValidateBatch(recs, tr)

	for i := 0; i < 24; i++ {
		assert.Empty(t, outcomes[i].Findings, "first day is complete")
	}
	for i := 24; i < len(recs); i++ {
		assert.Equal(t, []string{RuleIncompleteDay, RuleUnexpectedDailyCount}, ruleIDs(outcomes[i]))
	}
}

func TestValidateBatch_RangeWindowClipsPartialDays(t *testing.T) {
	// Range covers 06:00-24:00; the provider still returns the whole day.
	tr := domain.TimeRange{Start: day.Add(6 * time.Hour), End: day.Add(24 * time.Hour)}
	recs := fullDay("Tokyo", day)

	for _, o := range NewValidator(WindowRange).ValidateBatch(recs, tr) {
		assert.Empty(t, o.Findings)
	}

	// The same batch judged against whole days: 24 records present, still clean.
	for _, o := range NewValidator(WindowDay).ValidateBatch(recs, tr) {
		assert.Empty(t, o.Findings)
	}

	// Half a day under the day window is incomplete.
	for _, o := range NewValidator(WindowDay).ValidateBatch(recs[12:], tr) {
		assert.Contains(t, ruleIDs(o), RuleIncompleteDay)
	}
}

func TestValidateBatch_SkipsBatchRulesForNullIdentity(t *testing.T) {
	v := NewValidator(WindowRange)
	tr := domain.TimeRange{Start: day, End: day.Add(24 * time.Hour)}

	recs := fullDay("Tokyo", day)
	orphan := cleanRecord("Tokyo", time.Time{})
	recs = append(recs, orphan, orphan)

	outcomes := v.ValidateBatch(recs, tr)
	assert.Equal(t, []string{RuleNullEventTimestamp}, ruleIDs(outcomes[24]))
	assert.Equal(t, []string{RuleNullEventTimestamp}, ruleIDs(outcomes[25]))
	assert.Empty(t, outcomes[0].Findings)
}
