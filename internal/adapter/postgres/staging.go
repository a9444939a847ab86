package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// upsertStagingSQL loads a whole batch as parallel arrays in one round trip.
// Reruns of the same hour overwrite the previous row.
const upsertStagingSQL = `
INSERT INTO staging_weather_hourly (
    event_id, batch_id, location_name, latitude, longitude, event_timestamp,
    temperature_c, humidity_pct, precipitation_mm, wind_speed_kmh, weather_code,
    data_quality_score, dq_flags, is_anomaly_temp, is_anomaly_wind
)
SELECT u.event_id, $1, u.location_name, u.latitude, u.longitude, u.event_timestamp,
       u.temperature_c, u.humidity_pct, u.precipitation_mm, u.wind_speed_kmh, u.weather_code,
       u.score, string_to_array(u.flags, ','), u.anomaly_temp, u.anomaly_wind
FROM unnest(
    $2::text[], $3::text[], $4::float8[], $5::float8[], $6::timestamptz[],
    $7::float8[], $8::float8[], $9::float8[], $10::float8[], $11::int4[],
    $12::int4[], $13::text[], $14::bool[], $15::bool[]
) AS u(event_id, location_name, latitude, longitude, event_timestamp,
       temperature_c, humidity_pct, precipitation_mm, wind_speed_kmh, weather_code,
       score, flags, anomaly_temp, anomaly_wind)
ON CONFLICT (event_id) DO UPDATE SET
    batch_id           = EXCLUDED.batch_id,
    latitude           = EXCLUDED.latitude,
    longitude          = EXCLUDED.longitude,
    temperature_c      = EXCLUDED.temperature_c,
    humidity_pct       = EXCLUDED.humidity_pct,
    precipitation_mm   = EXCLUDED.precipitation_mm,
    wind_speed_kmh     = EXCLUDED.wind_speed_kmh,
    weather_code       = EXCLUDED.weather_code,
    data_quality_score = EXCLUDED.data_quality_score,
    dq_flags           = EXCLUDED.dq_flags,
    is_anomaly_temp    = EXCLUDED.is_anomaly_temp,
    is_anomaly_wind    = EXCLUDED.is_anomaly_wind,
    loaded_at          = now()`

// StagingRepository writes accepted records to staging_weather_hourly.
type StagingRepository struct {
	db DBTX
}

// NewStagingRepository creates a StagingRepository.
func NewStagingRepository(db DBTX) *StagingRepository {
	return &StagingRepository{db: db}
}

// WriteStaging upserts records. Duplicate hours within one batch keep the
// first occurrence, matching the validator's canonical pick.
func (r *StagingRepository) WriteStaging(ctx context.Context, batchID string, records []domain.EvaluatedRecord) error {
	cols := newStagingColumns(records)
	if len(cols.eventIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, upsertStagingSQL,
		batchID,
		cols.eventIDs, cols.locations, cols.latitudes, cols.longitudes, cols.timestamps,
		cols.temperatures, cols.humidities, cols.precipitation, cols.windSpeeds, cols.weatherCodes,
		cols.scores, cols.flags, cols.anomalyTemp, cols.anomalyWind,
	)
	if err != nil {
		return fmt.Errorf("upsert staging rows: %w", err)
	}
	return nil
}

type stagingColumns struct {
	eventIDs      []string
	locations     []string
	latitudes     []*float64
	longitudes    []*float64
	timestamps    []time.Time
	temperatures  []*float64
	humidities    []*float64
	precipitation []*float64
	windSpeeds    []*float64
	weatherCodes  []*int32
	scores        []int32
	flags         []string
	anomalyTemp   []bool
	anomalyWind   []bool
}

// newStagingColumns pivots records into column arrays. A row needs an
// event_id and a timestamp to be addressable.
func newStagingColumns(records []domain.EvaluatedRecord) stagingColumns {
	var c stagingColumns
	seen := make(map[string]bool, len(records))
	for _, er := range records {
		rec := er.Record
		if rec.EventID == "" || rec.EventTimestamp.IsZero() || seen[rec.EventID] {
			continue
		}
		seen[rec.EventID] = true

		var code *int32
		if rec.WeatherCode != nil {
			v := int32(*rec.WeatherCode)
			code = &v
		}
		c.eventIDs = append(c.eventIDs, rec.EventID)
		c.locations = append(c.locations, rec.LocationName)
		c.latitudes = append(c.latitudes, rec.Latitude)
		c.longitudes = append(c.longitudes, rec.Longitude)
		c.timestamps = append(c.timestamps, rec.EventTimestamp.UTC())
		c.temperatures = append(c.temperatures, rec.TemperatureC)
		c.humidities = append(c.humidities, rec.HumidityPct)
		c.precipitation = append(c.precipitation, rec.PrecipitationMM)
		c.windSpeeds = append(c.windSpeeds, rec.WindSpeedKmh)
		c.weatherCodes = append(c.weatherCodes, code)
		c.scores = append(c.scores, int32(er.Quality.Score))
		c.flags = append(c.flags, joinFlags(er.Quality.Flags))
		c.anomalyTemp = append(c.anomalyTemp, er.Quality.IsAnomalyTemp)
		c.anomalyWind = append(c.anomalyWind, er.Quality.IsAnomalyWind)
	}
	return c
}

// joinFlags packs flags for string_to_array. Flag names never contain commas.
func joinFlags(flags []string) string {
	return strings.Join(flags, ",")
}
