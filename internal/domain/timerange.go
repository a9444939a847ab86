package domain

import (
	"fmt"
	"time"
)

// TimeRange is a half-open UTC interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange validates and normalizes a range to UTC.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return TimeRange{}, fmt.Errorf("time range end %s must be after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// LastDays returns the days whole UTC days ending at the midnight before now,
// i.e. a history window that excludes the current partial day.
func LastDays(now time.Time, days int) TimeRange {
	end := StartOfDay(now)
	return TimeRange{Start: end.AddDate(0, 0, -days), End: end}
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// StartDate is the first calendar date to request from the provider.
func (r TimeRange) StartDate() string {
	return r.Start.UTC().Format(time.DateOnly)
}

// EndDate is the last calendar date to request (inclusive, as the provider expects).
func (r TimeRange) EndDate() string {
	return r.End.Add(-time.Nanosecond).UTC().Format(time.DateOnly)
}

// HoursInDay counts whole hourly slots of the calendar day containing day
// that fall inside the range.
func (r TimeRange) HoursInDay(day time.Time) int {
	from := StartOfDay(day)
	to := from.Add(24 * time.Hour)
	if r.Start.After(from) {
		from = r.Start
	}
	if r.End.Before(to) {
		to = r.End
	}
	if !to.After(from) {
		return 0
	}
	// Round the start up to the next slot boundary so partial hours don't count.
	first := from.Truncate(time.Hour)
	if first.Before(from) {
		first = first.Add(time.Hour)
	}
	if !to.After(first) {
		return 0
	}
	return int((to.Sub(first) + time.Hour - 1) / time.Hour)
}
