package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultLocations are the three reference cities.
const DefaultLocations = "New York:40.7128:-74.0060:USA;Singapore:1.3048:103.8312:Singapore;Tokyo:35.6815:139.7671:Japan"

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	OpenMeteoBaseURL string        `envconfig:"OPENMETEO_BASE_URL" default:"https://archive-api.open-meteo.com/v1/archive" validate:"url"`
	OpenMeteoTimeout time.Duration `envconfig:"OPENMETEO_TIMEOUT" default:"10s"`

	FetchMaxAttempts int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	FetchBaseDelay   time.Duration `envconfig:"FETCH_BASE_DELAY" default:"1s"`
	FetchMaxDelay    time.Duration `envconfig:"FETCH_MAX_DELAY" default:"30s"`
	FetchConcurrency int           `envconfig:"FETCH_CONCURRENCY" default:"5" validate:"min=1,max=64"`
	FetchSpacing     time.Duration `envconfig:"FETCH_SPACING" default:"1s"`

	BatchTimeout  time.Duration `envconfig:"BATCH_TIMEOUT" default:"15m"`
	FreshnessSLA  time.Duration `envconfig:"FRESHNESS_SLA" default:"48h"`
	BatchInterval time.Duration `envconfig:"BATCH_INTERVAL" default:"1h"`
	HistoryDays   int           `envconfig:"HISTORY_DAYS" default:"30" validate:"min=1,max=366"`
	Locations     LocationList  `envconfig:"LOCATIONS" default:"New York:40.7128:-74.0060:USA;Singapore:1.3048:103.8312:Singapore;Tokyo:35.6815:139.7671:Japan" validate:"min=1"`

	StatsWindow        time.Duration `envconfig:"STATS_WINDOW" default:"720h"`
	StatsMinSamples    int           `envconfig:"STATS_MIN_SAMPLES" default:"24" validate:"min=1"`
	AnomalySigma       float64       `envconfig:"DQ_ANOMALY_SIGMA" default:"3" validate:"gt=0"`
	CompletenessWindow string        `envconfig:"DQ_COMPLETENESS_WINDOW" default:"range" validate:"oneof=range day"`

	DatabaseURL string `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	KafkaEnabled     bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaMartTopic   string   `envconfig:"KAFKA_MART_TOPIC" default:"weather-quality-mart"`
	KafkaReportTopic string   `envconfig:"KAFKA_REPORT_TOPIC" default:"weather-quality-reports"`

	S3BucketName string `envconfig:"S3_BUCKET_NAME"`
	RawLocalDir  string `envconfig:"RAW_LOCAL_DIR" default:"data/raw"`

	AlertQueueURL       string `envconfig:"ALERT_QUEUE_URL" validate:"omitempty,url"`
	CloudWatchNamespace string `envconfig:"CLOUDWATCH_NAMESPACE"`
}

// LocationList decodes "name:lat:lon[:country];..." into locations.
type LocationList []domain.Location

// Decode implements envconfig.Decoder.
func (l *LocationList) Decode(value string) error {
	locs, err := ParseLocations(value)
	if err != nil {
		return err
	}
	*l = locs
	return nil
}

// ParseLocations parses the LOCATIONS format. Empty entries are skipped.
func ParseLocations(value string) ([]domain.Location, error) {
	var locs []domain.Location
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("location %q: want name:lat:lon[:country]", entry)
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("location %q: empty name", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || !domain.ValidRanges[domain.FieldLatitude].Contains(lat) {
			return nil, fmt.Errorf("location %q: invalid latitude", entry)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil || !domain.ValidRanges[domain.FieldLongitude].Contains(lon) {
			return nil, fmt.Errorf("location %q: invalid longitude", entry)
		}
		loc := domain.Location{Name: name, Latitude: lat, Longitude: lon}
		if len(parts) == 4 {
			loc.Country = strings.TrimSpace(parts[3])
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// Load reads configuration from the environment (and a .env file when present),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.checkDurations(); err != nil {
		return nil, err
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.FetchMaxDelay < cfg.FetchBaseDelay {
		return nil, errors.New("FETCH_MAX_DELAY must not be less than FETCH_BASE_DELAY")
	}

	return &cfg, nil
}

// newValidator reports field errors under their environment variable names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("envconfig"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func (c *Config) checkDurations() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"OPENMETEO_TIMEOUT", c.OpenMeteoTimeout},
		{"FETCH_BASE_DELAY", c.FetchBaseDelay},
		{"FETCH_MAX_DELAY", c.FetchMaxDelay},
		{"BATCH_TIMEOUT", c.BatchTimeout},
		{"FRESHNESS_SLA", c.FreshnessSLA},
		{"BATCH_INTERVAL", c.BatchInterval},
		{"STATS_WINDOW", c.StatsWindow},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", p.name)
		}
	}
	if c.FetchSpacing < 0 {
		return errors.New("invalid FETCH_SPACING: must not be negative")
	}
	return nil
}
