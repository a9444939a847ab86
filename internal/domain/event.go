package domain

import (
	"encoding/json"
	"time"
)

// Location is one configured place the batch fetches observations for.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
}

// RawPayload is the untouched provider response for one location.
type RawPayload struct {
	Location  Location
	Body      json.RawMessage
	FetchedAt time.Time
}

// Observation is a single hourly slot cut from a RawPayload. Values are kept
// exactly as the provider sent them.
type Observation struct {
	Location  string
	Latitude  json.RawMessage
	Longitude json.RawMessage
	Timestamp json.RawMessage
	Fields    map[string]json.RawMessage
}

// Field names a canonical Record attribute.
type Field string

const (
	FieldEventTimestamp Field = "event_timestamp"
	FieldLocationName   Field = "location_name"
	FieldLatitude       Field = "latitude"
	FieldLongitude      Field = "longitude"
	FieldTemperature    Field = "temperature_c"
	FieldHumidity       Field = "humidity_pct"
	FieldPrecipitation  Field = "precipitation_mm"
	FieldWindSpeed      Field = "wind_speed_kmh"
	FieldWeatherCode    Field = "weather_code"
)

// MeasuredFields lists the measurement fields in canonical order.
var MeasuredFields = []Field{
	FieldTemperature,
	FieldHumidity,
	FieldPrecipitation,
	FieldWindSpeed,
	FieldWeatherCode,
}

// Range is an inclusive valid interval for a numeric field.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ValidRanges are the declared bounds per numeric field.
var ValidRanges = map[Field]Range{
	FieldLatitude:      {Min: -90, Max: 90},
	FieldLongitude:     {Min: -180, Max: 180},
	FieldTemperature:   {Min: -60, Max: 60},
	FieldHumidity:      {Min: 0, Max: 100},
	FieldPrecipitation: {Min: 0, Max: 500},
	FieldWindSpeed:     {Min: 0, Max: 400},
	FieldWeatherCode:   {Min: 0, Max: 99},
}

// Record is the canonical hourly measurement. Nil pointers are nulls; an empty
// LocationName or zero EventTimestamp is likewise null.
type Record struct {
	EventID         string    `json:"event_id"`
	LocationName    string    `json:"location_name"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	EventTimestamp  time.Time `json:"event_timestamp"`
	TemperatureC    *float64  `json:"temperature_c"`
	HumidityPct     *float64  `json:"humidity_pct"`
	PrecipitationMM *float64  `json:"precipitation_mm"`
	WindSpeedKmh    *float64  `json:"wind_speed_kmh"`
	WeatherCode     *int      `json:"weather_code"`

	// Absent lists canonical fields the provider omitted entirely, as opposed
	// to sending null.
	Absent []Field `json:"-"`
}

// Value returns the numeric value of f, or false when it is null or not numeric.
func (r Record) Value(f Field) (float64, bool) {
	var p *float64
	switch f {
	case FieldLatitude:
		p = r.Latitude
	case FieldLongitude:
		p = r.Longitude
	case FieldTemperature:
		p = r.TemperatureC
	case FieldHumidity:
		p = r.HumidityPct
	case FieldPrecipitation:
		p = r.PrecipitationMM
	case FieldWindSpeed:
		p = r.WindSpeedKmh
	case FieldWeatherCode:
		if r.WeatherCode == nil {
			return 0, false
		}
		return float64(*r.WeatherCode), true
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// IsAbsent reports whether f was missing from the provider payload.
func (r Record) IsAbsent(f Field) bool {
	for _, a := range r.Absent {
		if a == f {
			return true
		}
	}
	return false
}

// RawArchive is the write-once audit record for one provider response.
type RawArchive struct {
	IngestionID   string          `json:"ingestion_id"`
	IngestedAt    time.Time       `json:"ingested_at"`
	Location      string          `json:"location"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Country       string          `json:"country,omitempty"`
	PartitionDate string          `json:"partition_date"`
	RawResponse   json.RawMessage `json:"raw_response"`
}

// NewRawArchive builds the audit record for a fetched payload.
func NewRawArchive(ingestionID string, p RawPayload) RawArchive {
	at := p.FetchedAt.UTC()
	return RawArchive{
		IngestionID:   ingestionID,
		IngestedAt:    at,
		Location:      p.Location.Name,
		Latitude:      p.Location.Latitude,
		Longitude:     p.Location.Longitude,
		Country:       p.Location.Country,
		PartitionDate: at.Format(time.DateOnly),
		RawResponse:   p.Body,
	}
}
