// Package stats keeps rolling per-location, per-field statistics over a
// sliding time window.
//
// Each series maintains Welford running moments. Adding a sample and evicting
// an expired one are both O(1) moment updates. Reversing a Welford step leaks
// rounding error, so the moments are recomputed from the retained samples once
// a full window has been evicted or when the variance collapses to rounding
// noise.
package stats

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// ErrInsufficientData signals that a series holds fewer samples than the
// configured minimum. It is a control-flow signal, not a failure.
var ErrInsufficientData = errors.New("insufficient data for baseline")

// DefaultWindow is the trailing window length.
const DefaultWindow = 30 * 24 * time.Hour

// DefaultMinSamples is the sample floor below which snapshots are not trusted.
const DefaultMinSamples = 24

// Sample is one persisted observation of a series.
type Sample struct {
	Location  string       `json:"location"`
	Field     domain.Field `json:"field"`
	Timestamp time.Time    `json:"timestamp"`
	Value     float64      `json:"value"`
}

// Snapshot is the read view of one series.
type Snapshot struct {
	Mean        float64
	StdDev      float64
	Count       int
	WindowStart time.Time
	WindowEnd   time.Time
}

type seriesKey struct {
	location string
	field    domain.Field
}

type point struct {
	ts    time.Time
	value float64
}

// series is a time-ordered window with running moments. Its mutex serializes
// updates to the same key.
type series struct {
	mu      sync.Mutex
	points  []point
	mean    float64
	m2      float64
	removed int // reversed Welford steps since the last exact recompute
}

// Store is the rolling statistics state shared across batches.
type Store struct {
	window     time.Duration
	minSamples int

	mu     sync.RWMutex
	series map[seriesKey]*series
}

// New creates an empty store. Non-positive arguments fall back to defaults.
func New(window time.Duration, minSamples int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Store{
		window:     window,
		minSamples: minSamples,
		series:     make(map[seriesKey]*series),
	}
}

// MinSamples returns the configured sample floor.
func (s *Store) MinSamples() int { return s.minSamples }

// Window returns the sliding window length.
func (s *Store) Window() time.Duration { return s.window }

// Update folds one observation into the (location, field) window and evicts
// samples older than the window relative to the newest timestamp. A second
// value for an existing timestamp replaces the first, so replaying the same
// hours is idempotent.
func (s *Store) Update(location string, field domain.Field, value float64, ts time.Time) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	ser := s.getOrCreate(seriesKey{location: location, field: field})

	ser.mu.Lock()
	defer ser.mu.Unlock()

	ts = ts.UTC()
	newest := ts
	if n := len(ser.points); n > 0 && ser.points[n-1].ts.After(newest) {
		newest = ser.points[n-1].ts
	}
	cutoff := newest.Add(-s.window)
	if ts.Before(cutoff) {
		return
	}

	i := sort.Search(len(ser.points), func(i int) bool { return !ser.points[i].ts.Before(ts) })
	switch {
	case i < len(ser.points) && ser.points[i].ts.Equal(ts):
		n := len(ser.points)
		ser.remove(ser.points[i].value, n)
		ser.add(value, n)
		ser.points[i].value = value
	case i == len(ser.points):
		ser.add(value, len(ser.points)+1)
		ser.points = append(ser.points, point{ts: ts, value: value})
	default:
		ser.add(value, len(ser.points)+1)
		ser.points = append(ser.points, point{})
		copy(ser.points[i+1:], ser.points[i:])
		ser.points[i] = point{ts: ts, value: value}
	}

	evict := 0
	for evict < len(ser.points) && ser.points[evict].ts.Before(cutoff) {
		ser.remove(ser.points[evict].value, len(ser.points)-evict)
		evict++
	}
	if evict > 0 {
		ser.points = append(ser.points[:0], ser.points[evict:]...)
	}
	if ser.removed >= len(ser.points) || ser.collapsed() {
		ser.recompute()
	}
}

// Snapshot returns the current moments of a series. When the series holds
// fewer than the minimum number of samples the partial snapshot is returned
// together with ErrInsufficientData.
func (s *Store) Snapshot(location string, field domain.Field) (Snapshot, error) {
	s.mu.RLock()
	ser, ok := s.series[seriesKey{location: location, field: field}]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrInsufficientData
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	snap := Snapshot{Count: len(ser.points)}
	if snap.Count > 0 {
		snap.Mean = ser.mean
		snap.StdDev = math.Sqrt(ser.m2 / float64(snap.Count))
		snap.WindowStart = ser.points[0].ts
		snap.WindowEnd = ser.points[snap.Count-1].ts
	}
	if snap.Count < s.minSamples {
		return snap, ErrInsufficientData
	}
	return snap, nil
}

// Samples exports every retained sample, ordered by location, field and time.
func (s *Store) Samples() []Sample {
	s.mu.RLock()
	keys := make([]seriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].location != keys[j].location {
			return keys[i].location < keys[j].location
		}
		return keys[i].field < keys[j].field
	})

	var out []Sample
	for _, k := range keys {
		s.mu.RLock()
		ser := s.series[k]
		s.mu.RUnlock()

		ser.mu.Lock()
		for _, p := range ser.points {
			out = append(out, Sample{Location: k.location, Field: k.field, Timestamp: p.ts, Value: p.value})
		}
		ser.mu.Unlock()
	}
	return out
}

// Restore folds persisted samples back into the store.
func (s *Store) Restore(samples []Sample) {
	for _, smp := range samples {
		s.Update(smp.Location, smp.Field, smp.Value, smp.Timestamp)
	}
}

// SeriesCount returns the number of tracked (location, field) series.
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

func (s *Store) getOrCreate(k seriesKey) *series {
	s.mu.RLock()
	ser, ok := s.series[k]
	s.mu.RUnlock()
	if ok {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok = s.series[k]; ok {
		return ser
	}
	ser = &series{}
	s.series[k] = ser
	return ser
}

// add applies a Welford insertion; n is the sample count including x.
func (ser *series) add(x float64, n int) {
	delta := x - ser.mean
	ser.mean += delta / float64(n)
	ser.m2 += delta * (x - ser.mean)
}

// remove reverses a Welford insertion; n is the sample count still including x.
func (ser *series) remove(x float64, n int) {
	if n <= 1 {
		ser.mean, ser.m2 = 0, 0
		return
	}
	ser.removed++
	delta := x - ser.mean
	ser.mean -= delta / float64(n-1)
	ser.m2 -= delta * (x - ser.mean)
}

// collapsed reports a variance too small to tell apart from cancellation
// error left behind by removals.
func (ser *series) collapsed() bool {
	if ser.removed == 0 || len(ser.points) == 0 {
		return false
	}
	scale := ser.mean*ser.mean + 1
	return ser.m2 <= 1e-9*scale*float64(len(ser.points))
}

// recompute rebuilds the moments from the retained samples with a corrected
// two-pass sum.
func (ser *series) recompute() {
	ser.removed = 0
	n := len(ser.points)
	if n == 0 {
		ser.mean, ser.m2 = 0, 0
		return
	}
	var sum float64
	for _, p := range ser.points {
		sum += p.value
	}
	mean := sum / float64(n)
	var m2, comp float64
	for _, p := range ser.points {
		d := p.value - mean
		m2 += d * d
		comp += d
	}
	ser.mean = mean + comp/float64(n)
	ser.m2 = m2 - comp*comp/float64(n)
	if ser.m2 < 0 {
		ser.m2 = 0
	}
}
