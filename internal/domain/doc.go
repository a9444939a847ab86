// Package domain models hourly weather observations and the data-quality
// findings attached to them.
//
// # Data Source
//
// Observations come from the Open-Meteo historical archive API
// (https://archive-api.open-meteo.com/v1/archive). One request covers one
// location and a whole-day date range and returns parallel hourly arrays:
//
//	{
//	  "latitude": 35.7, "longitude": 139.75,
//	  "timezone": "GMT", "timezone_abbreviation": "GMT",
//	  "hourly": {
//	    "time":                 ["2024-06-01T00:00", "2024-06-01T01:00", ...],
//	    "temperature_2m":       [21.4, 21.0, ...],
//	    "relative_humidity_2m": [78, 80, ...],
//	    "precipitation":        [0.0, 0.2, ...],
//	    "wind_speed_10m":       [7.9, 8.3, ...],
//	    "weather_code":         [3, 51, ...]
//	  }
//	}
//
// The payload stays opaque until SplitPayload cuts it into one Observation per
// hourly slot. Normalize then maps each Observation onto the canonical Record.
//
// # Conventions
//
// Time: hourly slots are formatted "2006-01-02T15:04" without a zone. Requests
// always pass timezone=GMT, so slots are parsed as UTC. A payload whose
// timezone or timezone_abbreviation is anything other than GMT is rejected as
// schema drift.
//
// Units (Open-Meteo defaults, no conversion applied):
//
//	temperature_2m        °C      -> temperature_c
//	relative_humidity_2m  %       -> humidity_pct
//	precipitation         mm      -> precipitation_mm
//	wind_speed_10m        km/h    -> wind_speed_kmh
//	weather_code          WMO 0-99 -> weather_code
//
// Nulls: Open-Meteo emits JSON null for hours it has no value for. Nulls are
// carried through as nil pointers; deciding whether a null matters is the
// validator's job, never the normalizer's.
//
// Identity: event_id is a truncated SHA-256 over location name and hourly
// timestamp, so the same hour fetched twice always hashes to the same id.
package domain
