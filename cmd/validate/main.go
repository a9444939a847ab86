// Command validate scores raw archives written by earlier runs, without
// fetching. Archives holding only slots before --start-date warm the rolling
// baseline first, oldest ingestion first, so anomaly checks apply offline too.
// It exits 0 when the batch completes, 1 when any record carries a critical
// finding and 2 on usage or input errors.
//
// Usage:
//
//	go run ./cmd/validate \
//	  --archives data/raw \
//	  --start-date 2024-06-01 --end-date 2024-06-30
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/adapter/rawarchive"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/couchcryptid/weather-quality-etl/internal/pipeline"
	"github.com/couchcryptid/weather-quality-etl/internal/quality"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitUsage     = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	archives := fs.StringP("archives", "a", "", "raw archive directory or single .json.gz file")
	startDate := fs.StringP("start-date", "s", "", "first day of the range (yyyy-mm-dd)")
	endDate := fs.StringP("end-date", "e", "", "last day of the range, inclusive (yyyy-mm-dd), default is start-date")
	sigma := fs.Float64("sigma", quality.DefaultSigma, "anomaly threshold in standard deviations")
	window := fs.String("completeness-window", string(quality.WindowRange), "range or day")
	minSamples := fs.Int("min-samples", stats.DefaultMinSamples, "samples required before anomaly checks apply")
	warm := fs.Bool("warm", true, "seed the baseline from slots before --start-date")
	records := fs.Bool("records", false, "print one line per scored record")
	logLevel := fs.String("log-level", "warn", "log level")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *archives == "" || *startDate == "" {
		fs.Usage()
		fmt.Fprintln(stderr, "--archives and --start-date are required")
		return exitUsage
	}
	if *endDate == "" {
		*endDate = *startDate
	}
	switch quality.CompletenessWindow(*window) {
	case quality.WindowRange, quality.WindowDay:
	default:
		fmt.Fprintf(stderr, "invalid --completeness-window %q: want %s or %s\n", *window, quality.WindowRange, quality.WindowDay)
		return exitUsage
	}

	tr, err := parseRange(*startDate, *endDate)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	payloads, err := loadPayloads(*archives)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if len(payloads) == 0 {
		fmt.Fprintf(stderr, "no archives found under %s\n", *archives)
		return exitUsage
	}

	logger := observability.NewLoggerTo(stderr, *logLevel, "text")
	opts := pipeline.DefaultOptions()
	opts.Sigma = *sigma
	opts.CompletenessWindow = quality.CompletenessWindow(*window)

	o := pipeline.New(nil, stats.New(stats.DefaultWindow, *minSamples), pipeline.Sinks{}, opts,
		clockwork.NewRealClock(), logger, observability.NewMetricsForTesting())

	if *warm {
		sort.SliceStable(payloads, func(i, j int) bool {
			return payloads[i].FetchedAt.Before(payloads[j].FetchedAt)
		})
		payloads, _ = o.Warm(payloads, tr.Start)
		if len(payloads) == 0 {
			fmt.Fprintf(stderr, "no archives under %s cover %s\n", *archives, tr.Start.Format(time.DateOnly))
			return exitUsage
		}
	}

	report, err := o.Evaluate(context.Background(), payloads, tr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if *records {
		for _, er := range report.Records {
			fmt.Fprintf(stdout, "%s\t%s\t%d\t%v\n", er.Record.LocationName,
				er.Record.EventTimestamp.Format(time.RFC3339), er.Quality.Score, er.Quality.Flags)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if !report.Succeeded() {
		return exitFailed
	}
	return exitCompleted
}

func parseRange(start, end string) (domain.TimeRange, error) {
	s, err := time.ParseInLocation(time.DateOnly, start, time.UTC)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("start-date: %w", err)
	}
	e, err := time.ParseInLocation(time.DateOnly, end, time.UTC)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("end-date: %w", err)
	}
	return domain.NewTimeRange(s, e.AddDate(0, 0, 1))
}

func loadPayloads(root string) ([]domain.RawPayload, error) {
	paths, err := rawarchive.ListArchives(root)
	if err != nil {
		return nil, err
	}
	payloads := make([]domain.RawPayload, 0, len(paths))
	for _, path := range paths {
		a, err := readArchive(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		payloads = append(payloads, rawarchive.Payload(a))
	}
	return payloads, nil
}

func readArchive(path string) (domain.RawArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RawArchive{}, err
	}
	defer f.Close()
	return rawarchive.Decode(f)
}
