package openmeteo

import (
	"encoding/json"
	"math"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// Payload mirrors the archive response body for the hourly variables we request.
// It is used to build fixtures; the live path keeps the body as raw bytes.
type Payload struct {
	Latitude             *float64          `json:"latitude"`
	Longitude            *float64          `json:"longitude"`
	Timezone             string            `json:"timezone"`
	TimezoneAbbreviation string            `json:"timezone_abbreviation"`
	HourlyUnits          map[string]string `json:"hourly_units,omitempty"`
	Hourly               Hourly            `json:"hourly"`
}

// Hourly holds the parallel hourly arrays.
type Hourly struct {
	Time          []string   `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	Precipitation []*float64 `json:"precipitation"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	WeatherCode   []*int     `json:"weather_code"`
}

// Synthesize builds a deterministic, rule-clean payload for loc covering every
// hour of tr. Temperature and wind follow a smooth diurnal curve, so a store
// warmed with earlier synthetic days will not flag later ones.
func Synthesize(loc domain.Location, tr domain.TimeRange) Payload {
	lat, lon := loc.Latitude, loc.Longitude
	p := Payload{
		Latitude:             &lat,
		Longitude:            &lon,
		Timezone:             "GMT",
		TimezoneAbbreviation: "GMT",
		HourlyUnits: map[string]string{
			"time":                 "iso8601",
			"temperature_2m":       "°C",
			"relative_humidity_2m": "%",
			"precipitation":        "mm",
			"wind_speed_10m":       "km/h",
			"weather_code":         "wmo code",
		},
	}

	// Warmer near the equator.
	baseTemp := 28 - math.Abs(lat)/3
	for ts := tr.Start.UTC().Truncate(time.Hour); ts.Before(tr.End); ts = ts.Add(time.Hour) {
		if ts.Before(tr.Start) {
			continue
		}
		phase := 2 * math.Pi * float64(ts.Hour()) / 24
		p.Hourly.Time = append(p.Hourly.Time, ts.Format("2006-01-02T15:04"))
		p.Hourly.Temperature = append(p.Hourly.Temperature, num(round1(baseTemp+5*math.Sin(phase))))
		p.Hourly.Humidity = append(p.Hourly.Humidity, num(round1(70-10*math.Sin(phase))))
		p.Hourly.Precipitation = append(p.Hourly.Precipitation, num(0))
		p.Hourly.WindSpeed = append(p.Hourly.WindSpeed, num(round1(12+3*math.Cos(phase))))
		code := 1
		p.Hourly.WeatherCode = append(p.Hourly.WeatherCode, &code)
	}
	return p
}

// Encode returns the JSON body the archive API would send.
func (p Payload) Encode() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		// Payload holds only numbers, strings and slices of them.
		panic(err)
	}
	return b
}

func num(v float64) *float64 { return &v }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
