// Package rawarchive writes the write-once audit copy of every provider
// response, gzip-compressed JSON under a date-partitioned key.
package rawarchive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/klauspost/compress/gzip"
)

// ErrAlreadyExists is returned when the key was written before.
var ErrAlreadyExists = errors.New("raw archive already exists")

// Key returns raw/year=YYYY/month=MM/day=DD/<loc>_<YYYYMMDD>_<HHMMSS>_<id>.json.gz.
func Key(a domain.RawArchive) string {
	at := a.IngestedAt.UTC()
	return fmt.Sprintf("raw/year=%04d/month=%02d/day=%02d/%s_%s_%s_%s.json.gz",
		at.Year(), at.Month(), at.Day(),
		slug(a.Location),
		at.Format("20060102"),
		at.Format("150405"),
		a.IngestionID,
	)
}

// slug lowercases and keeps letters and digits, so "New York" becomes "newyork".
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Encode serializes and gzips an archive record.
func Encode(a domain.RawArchive) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal raw archive: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = a.IngestionID + ".json"
	zw.ModTime = a.IngestedAt.UTC().Truncate(time.Second)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress raw archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress raw archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a gzip-compressed archive record.
func Decode(r io.Reader) (domain.RawArchive, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return domain.RawArchive{}, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	var a domain.RawArchive
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return domain.RawArchive{}, fmt.Errorf("decode raw archive: %w", err)
	}
	return a, nil
}

// Payload rebuilds the fetched payload an archive was made from.
func Payload(a domain.RawArchive) domain.RawPayload {
	return domain.RawPayload{
		Location: domain.Location{
			Name:      a.Location,
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			Country:   a.Country,
		},
		Body:      a.RawResponse,
		FetchedAt: a.IngestedAt,
	}
}
