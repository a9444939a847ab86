package pipeline

import (
	"fmt"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// normalizePayload splits one location's payload and maps every slot onto a
// canonical Record. Any structural or type error rejects the whole payload,
// since a drifted schema cannot be trusted slot by slot.
func normalizePayload(p domain.RawPayload) ([]domain.Record, error) {
	obs, err := domain.SplitPayload(p)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(obs))
	for i, o := range obs {
		rec, err := domain.Normalize(o)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
