package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
)

const upsertSamplesSQL = `
INSERT INTO dq_rolling_samples (location_name, field, event_timestamp, value)
SELECT * FROM unnest($1::text[], $2::text[], $3::timestamptz[], $4::float8[])
ON CONFLICT (location_name, field, event_timestamp) DO UPDATE SET value = EXCLUDED.value`

const pruneSamplesSQL = `DELETE FROM dq_rolling_samples WHERE event_timestamp < $1`

const loadSamplesSQL = `
SELECT location_name, field, event_timestamp, value
FROM dq_rolling_samples
WHERE event_timestamp >= $1
ORDER BY location_name, field, event_timestamp`

// StatsRepository persists the samples behind the rolling statistics store,
// so a restarted process resumes with a warm baseline.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a StatsRepository.
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

// SaveSamples upserts samples and drops anything older than cutoff.
func (r *StatsRepository) SaveSamples(ctx context.Context, samples []stats.Sample, cutoff time.Time) error {
	if len(samples) > 0 {
		locs := make([]string, len(samples))
		fields := make([]string, len(samples))
		times := make([]time.Time, len(samples))
		values := make([]float64, len(samples))
		for i, s := range samples {
			locs[i] = s.Location
			fields[i] = string(s.Field)
			times[i] = s.Timestamp.UTC()
			values[i] = s.Value
		}
		if _, err := r.db.Exec(ctx, upsertSamplesSQL, locs, fields, times, values); err != nil {
			return fmt.Errorf("upsert samples: %w", err)
		}
	}
	if !cutoff.IsZero() {
		if _, err := r.db.Exec(ctx, pruneSamplesSQL, cutoff.UTC()); err != nil {
			return fmt.Errorf("prune samples: %w", err)
		}
	}
	return nil
}

// LoadSamples returns persisted samples at or after since, ordered for Restore.
func (r *StatsRepository) LoadSamples(ctx context.Context, since time.Time) ([]stats.Sample, error) {
	rows, err := r.db.Query(ctx, loadSamplesSQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []stats.Sample
	for rows.Next() {
		var (
			s     stats.Sample
			field string
		)
		if err := rows.Scan(&s.Location, &field, &s.Timestamp, &s.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Field = domain.Field(field)
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}
