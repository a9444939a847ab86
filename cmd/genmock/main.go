// Command genmock writes synthetic raw archives in the provider's shape, with
// optional injected faults, for local runs of cmd/validate and for demos.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  --out data/mock/raw \
//	  --start-date 2024-06-01 --days 3 \
//	  --fault null-latitude --fault-location Tokyo
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/rawarchive"
	"github.com/couchcryptid/weather-quality-etl/internal/config"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

// Faults that can be injected into one location's payload.
const (
	faultNullLatitude = "null-latitude"
	faultSpike        = "spike"
	faultGap          = "gap"
	faultDuplicate    = "duplicate"
	faultOutOfRange   = "out-of-range"
	faultDrift        = "drift"
)

var knownFaults = []string{faultNullLatitude, faultSpike, faultGap, faultDuplicate, faultOutOfRange, faultDrift}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("genmock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.StringP("out", "o", "data/mock/raw", "output directory for raw archives")
	startDate := fs.StringP("start-date", "s", "", "first day (yyyy-mm-dd), default is yesterday")
	days := fs.IntP("days", "d", 1, "number of days per location")
	locations := fs.String("locations", config.DefaultLocations, "name:lat:lon[:country];...")
	faults := fs.StringSlice("fault", nil, "fault to inject: "+strings.Join(knownFaults, ", "))
	faultLocation := fs.String("fault-location", "", "location receiving the faults, default is the first")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	for _, f := range *faults {
		if !slices.Contains(knownFaults, f) {
			fmt.Fprintf(stderr, "unknown fault %q\n", f)
			return 2
		}
	}
	if *days < 1 {
		fmt.Fprintln(stderr, "--days must be at least 1")
		return 2
	}

	start := domain.StartOfDay(time.Now().AddDate(0, 0, -1))
	if *startDate != "" {
		t, err := time.ParseInLocation(time.DateOnly, *startDate, time.UTC)
		if err != nil {
			fmt.Fprintf(stderr, "start-date: %v\n", err)
			return 2
		}
		start = t
	}
	tr := domain.TimeRange{Start: start, End: start.AddDate(0, 0, *days)}

	locs, err := config.ParseLocations(*locations)
	if err != nil || len(locs) == 0 {
		fmt.Fprintf(stderr, "locations: %v\n", err)
		return 2
	}
	target := locs[0].Name
	if *faultLocation != "" {
		target = *faultLocation
	}

	sink := rawarchive.NewDirSink(*out)
	for _, loc := range locs {
		p := openmeteo.Synthesize(loc, tr)
		var body []byte
		if loc.Name == target && len(*faults) > 0 {
			body, err = inject(p, *faults)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
		} else {
			body = p.Encode()
		}

		a := domain.NewRawArchive(uuid.NewString(), domain.RawPayload{
			Location:  loc,
			Body:      body,
			FetchedAt: time.Now().UTC(),
		})
		key, err := sink.WriteRaw(context.Background(), a)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "%s\t%d hours\t%s\n", loc.Name, len(p.Hourly.Time), key)
	}
	return 0
}

// inject applies faults to a synthetic payload. Slot 5 is the victim for
// per-slot faults.
func inject(p openmeteo.Payload, faults []string) ([]byte, error) {
	const slot = 5
	if len(p.Hourly.Time) <= slot {
		return nil, fmt.Errorf("payload has %d slots, need more than %d", len(p.Hourly.Time), slot)
	}
	h := &p.Hourly
	for _, f := range faults {
		switch f {
		case faultNullLatitude:
			p.Latitude = nil
		case faultSpike:
			v := *h.Temperature[slot] + 25
			h.Temperature[slot] = &v
		case faultOutOfRange:
			v := 101.0
			h.Humidity[slot] = &v
		case faultGap:
			h.Time = slices.Delete(h.Time, slot, slot+3)
			h.Temperature = slices.Delete(h.Temperature, slot, slot+3)
			h.Humidity = slices.Delete(h.Humidity, slot, slot+3)
			h.Precipitation = slices.Delete(h.Precipitation, slot, slot+3)
			h.WindSpeed = slices.Delete(h.WindSpeed, slot, slot+3)
			h.WeatherCode = slices.Delete(h.WeatherCode, slot, slot+3)
		case faultDuplicate:
			h.Time = append(h.Time, h.Time[slot])
			h.Temperature = append(h.Temperature, h.Temperature[slot])
			h.Humidity = append(h.Humidity, h.Humidity[slot])
			h.Precipitation = append(h.Precipitation, h.Precipitation[slot])
			h.WindSpeed = append(h.WindSpeed, h.WindSpeed[slot])
			h.WeatherCode = append(h.WeatherCode, h.WeatherCode[slot])
		}
	}

	if !slices.Contains(faults, faultDrift) {
		return p.Encode(), nil
	}
	// Drift renames a column, which the encoder's fixed struct cannot express.
	var generic map[string]any
	if err := json.Unmarshal(p.Encode(), &generic); err != nil {
		return nil, err
	}
	hourly := generic["hourly"].(map[string]any)
	hourly["temperature_2m_max"] = hourly["temperature_2m"]
	delete(hourly, "temperature_2m")
	return json.Marshal(generic)
}
