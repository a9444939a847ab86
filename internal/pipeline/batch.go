package pipeline

import (
	"log/slog"
	"sync"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// locationStatus tracks one location through a batch.
type locationStatus string

const (
	locationFetching    locationStatus = "fetching"
	locationNormalizing locationStatus = "normalizing"
	locationValidating  locationStatus = "validating"
	locationScoring     locationStatus = "scoring"
	locationDone        locationStatus = "done"
	locationFailed      locationStatus = "failed"
)

// batch is the mutable state of one run. Every transition is logged so a
// run can be reconstructed from its log lines.
type batch struct {
	id        string
	tr        domain.TimeRange
	locations []domain.Location
	logger    *slog.Logger

	mu       sync.Mutex
	status   domain.BatchStatus
	fetched  []string
	failures []domain.LocationFailure
}

func (b *batch) transition(to domain.BatchStatus) {
	b.mu.Lock()
	from := b.status
	b.status = to
	b.mu.Unlock()
	b.logger.Info("batch state", "from", from, "status", to)
}

func (b *batch) locationState(location string, to locationStatus) {
	b.logger.Debug("location state", "location", location, "status", to)
}

// fail records a location failure. A failed location contributes no records.
func (b *batch) fail(f domain.LocationFailure) {
	b.mu.Lock()
	b.failures = append(b.failures, f)
	b.mu.Unlock()
	b.logger.Warn("location state",
		"location", f.Location,
		"status", locationFailed,
		"reason", f.Reason,
		"fatal", f.Fatal,
		"detail", f.Detail,
	)
}
