package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/rawarchive"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var june1 = domain.TimeRange{
	Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
}

func writeArchive(t *testing.T, dir, id string, loc domain.Location, body []byte) {
	t.Helper()
	writeArchiveAt(t, dir, id, loc, body, time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC))
}

func writeArchiveAt(t *testing.T, dir, id string, loc domain.Location, body []byte, at time.Time) {
	t.Helper()
	a := domain.NewRawArchive(id, domain.RawPayload{
		Location:  loc,
		Body:      body,
		FetchedAt: at,
	})
	_, err := rawarchive.NewDirSink(dir).WriteRaw(context.Background(), a)
	require.NoError(t, err)
}

func TestRun(t *testing.T) {
	tokyo := domain.Location{Name: "Tokyo", Latitude: 35.6815, Longitude: 139.7671}
	clean := openmeteo.Synthesize(tokyo, june1)
	broken := openmeteo.Synthesize(tokyo, june1)
	broken.Latitude = nil

	tests := []struct {
		name     string
		body     []byte
		args     []string
		wantCode int
		overall  string
	}{
		{
			name:     "clean archive completes",
			body:     clean.Encode(),
			args:     []string{"--start-date", "2024-06-01"},
			wantCode: exitCompleted,
			overall:  "completed",
		},
		{
			name:     "null latitude fails",
			body:     broken.Encode(),
			args:     []string{"-s", "2024-06-01", "-e", "2024-06-01"},
			wantCode: exitFailed,
			overall:  "failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeArchive(t, dir, "ing-1", tokyo, tt.body)

			var stdout, stderr bytes.Buffer
			code := run(append([]string{"--archives", dir}, tt.args...), &stdout, &stderr)
			require.Equal(t, tt.wantCode, code, stderr.String())

			var report map[string]any
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
			assert.Equal(t, tt.overall, report["overall"])
			assert.InDelta(t, 24, report["records_total"], 0)
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no flags"},
		{name: "missing start", args: []string{"--archives", "x"}},
		{name: "bad date", args: []string{"--archives", "x", "--start-date", "June"}},
		{name: "empty dir", args: []string{"--archives", "", "--start-date", "2024-06-01"}},
		{name: "unknown flag", args: []string{"--nope"}},
		{name: "bad completeness window", args: []string{"--archives", "x", "--start-date", "2024-06-01", "--completeness-window", "rnage"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, exitUsage, run(tt.args, &stdout, &stderr))
		})
	}
}

func TestRun_NoArchives(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--archives", t.TempDir(), "--start-date", "2024-06-01"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "no archives found")
}

func TestRun_RejectsUnknownCompletenessWindow(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-a", t.TempDir(), "-s", "2024-06-01", "--completeness-window", "week"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), `invalid --completeness-window "week"`)
	assert.Empty(t, stdout.String())
}

func TestRun_WarmsBaselineFromEarlierArchives(t *testing.T) {
	tokyo := domain.Location{Name: "Tokyo", Latitude: 35.6815, Longitude: 139.7671}
	history := domain.TimeRange{Start: june1.Start.AddDate(0, 0, -30), End: june1.Start}

	dir := t.TempDir()
	writeArchiveAt(t, dir, "ing-history", tokyo, openmeteo.Synthesize(tokyo, history).Encode(),
		time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC))
	writeArchive(t, dir, "ing-current", tokyo, openmeteo.Synthesize(tokyo, june1).Encode())

	tests := []struct {
		name          string
		args          []string
		wantLowSample bool
	}{
		{name: "warm by default", args: nil, wantLowSample: false},
		{name: "cold when disabled", args: []string{"--warm=false"}, wantLowSample: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-a", dir, "-s", "2024-06-01", "--records"}, tt.args...)
			var stdout, stderr bytes.Buffer
			code := run(args, &stdout, &stderr)
			require.Equal(t, exitCompleted, code, stderr.String())

			out := stdout.String()
			assert.Equal(t, tt.wantLowSample, strings.Contains(out, "low_sample_baseline"))

			var report map[string]any
			require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &report))
			if !tt.wantLowSample {
				assert.InDelta(t, 24, report["records_total"], 0)
				assert.InDelta(t, 100, report["mean_score"], 1e-9)
			}
		})
	}
}
