package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// hourlyTimeLayout is the provider's slot format when timezone=GMT.
const hourlyTimeLayout = "2006-01-02T15:04"

// providerFields maps provider hourly keys onto canonical fields, in canonical order.
var providerFields = []struct {
	key   string
	field Field
}{
	{"temperature_2m", FieldTemperature},
	{"relative_humidity_2m", FieldHumidity},
	{"precipitation", FieldPrecipitation},
	{"wind_speed_10m", FieldWindSpeed},
	{"weather_code", FieldWeatherCode},
}

// ProviderHourlyKeys returns the hourly variables to request from the provider.
func ProviderHourlyKeys() []string {
	keys := make([]string, len(providerFields))
	for i, pf := range providerFields {
		keys[i] = pf.key
	}
	return keys
}

// SplitPayload cuts a provider response into one Observation per hourly slot.
// It checks structure only: required keys, array shapes and equal lengths.
func SplitPayload(p RawPayload) ([]Observation, error) {
	schemaErr := &SchemaError{Location: p.Location.Name}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(p.Body, &top); err != nil {
		schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, "payload: expected object")
		return nil, schemaErr
	}

	for _, key := range []string{"timezone", "timezone_abbreviation"} {
		tz, ok := top[key]
		if !ok || isNull(tz) {
			continue
		}
		var name string
		if err := json.Unmarshal(tz, &name); err != nil {
			schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, key+": expected string")
		} else if name != "GMT" {
			schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, fmt.Sprintf("%s: expected GMT, got %q", key, name))
		}
	}

	rawHourly, ok := top["hourly"]
	if !ok || isNull(rawHourly) {
		schemaErr.MissingFields = append(schemaErr.MissingFields, "hourly")
		return nil, schemaErr
	}
	var hourly map[string]json.RawMessage
	if err := json.Unmarshal(rawHourly, &hourly); err != nil {
		schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, "hourly: expected object")
		return nil, schemaErr
	}

	rawTimes, ok := hourly["time"]
	if !ok {
		schemaErr.MissingFields = append(schemaErr.MissingFields, "hourly.time")
		return nil, schemaErr
	}
	var times []json.RawMessage
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, "hourly.time: expected array")
		return nil, schemaErr
	}

	columns := make(map[string][]json.RawMessage, len(providerFields))
	for _, pf := range providerFields {
		raw, ok := hourly[pf.key]
		if !ok {
			continue
		}
		var col []json.RawMessage
		if err := json.Unmarshal(raw, &col); err != nil {
			schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, "hourly."+pf.key+": expected array")
			continue
		}
		if len(col) != len(times) {
			schemaErr.TypeMismatches = append(schemaErr.TypeMismatches,
				fmt.Sprintf("hourly.%s: length %d, want %d", pf.key, len(col), len(times)))
			continue
		}
		columns[pf.key] = col
	}

	if !schemaErr.empty() {
		return nil, schemaErr
	}

	obs := make([]Observation, len(times))
	for i := range times {
		fields := make(map[string]json.RawMessage, len(columns))
		for key, col := range columns {
			fields[key] = col[i]
		}
		obs[i] = Observation{
			Location:  p.Location.Name,
			Latitude:  top["latitude"],
			Longitude: top["longitude"],
			Timestamp: times[i],
			Fields:    fields,
		}
	}
	return obs, nil
}

// Normalize maps one Observation onto the canonical Record. It coerces types
// and nothing else: nulls and out-of-range values pass through untouched.
func Normalize(o Observation) (Record, error) {
	schemaErr := &SchemaError{Location: o.Location}
	mismatch := func(name string, want string) {
		schemaErr.TypeMismatches = append(schemaErr.TypeMismatches, name+": expected "+want)
	}

	rec := Record{LocationName: strings.TrimSpace(o.Location)}

	var ok bool
	if rec.Latitude, ok = decodeNumber(o.Latitude); !ok {
		mismatch(string(FieldLatitude), "number")
	}
	if rec.Longitude, ok = decodeNumber(o.Longitude); !ok {
		mismatch(string(FieldLongitude), "number")
	}
	if rec.EventTimestamp, ok = decodeTimestamp(o.Timestamp); !ok {
		mismatch(string(FieldEventTimestamp), "timestamp")
	}

	if o.Fields == nil {
		schemaErr.MissingFields = append(schemaErr.MissingFields, "hourly")
	}

	for _, pf := range providerFields {
		raw, present := o.Fields[pf.key]
		if !present {
			rec.Absent = append(rec.Absent, pf.field)
			continue
		}
		v, ok := decodeNumber(raw)
		if !ok {
			mismatch(string(pf.field), "number")
			continue
		}
		switch pf.field {
		case FieldTemperature:
			rec.TemperatureC = v
		case FieldHumidity:
			rec.HumidityPct = v
		case FieldPrecipitation:
			rec.PrecipitationMM = v
		case FieldWindSpeed:
			rec.WindSpeedKmh = v
		case FieldWeatherCode:
			if v == nil {
				continue
			}
			if *v != math.Trunc(*v) {
				mismatch(string(pf.field), "integer")
				continue
			}
			code := int(*v)
			rec.WeatherCode = &code
		}
	}

	if !schemaErr.empty() {
		return Record{}, schemaErr
	}

	rec.EventID = EventID(rec.LocationName, rec.EventTimestamp)
	return rec, nil
}

// EventID derives a stable id from location and hourly timestamp so that
// re-fetched hours collide and duplicates are detectable.
func EventID(location string, ts time.Time) string {
	stamp := ""
	if !ts.IsZero() {
		stamp = ts.UTC().Format(time.RFC3339)
	}
	hash := sha256.Sum256([]byte(location + "|" + stamp))
	return hex.EncodeToString(hash[:8])
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeNumber returns nil for null, the value for a JSON number, and false
// for anything else.
func decodeNumber(raw json.RawMessage) (*float64, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// decodeTimestamp accepts the provider's hourly layout or RFC 3339.
func decodeTimestamp(raw json.RawMessage) (time.Time, bool) {
	if isNull(raw) {
		return time.Time{}, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true
	}
	if t, err := time.ParseInLocation(hourlyTimeLayout, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
