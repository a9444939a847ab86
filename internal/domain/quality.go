package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the tier of a validation finding. Lower values rank first.
type Severity int

const (
	SeverityCritical Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Finding is one rule outcome attached to a record. Findings are data, never errors.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationOutcome is the ordered set of findings for one record.
type ValidationOutcome struct {
	Findings []Finding `json:"findings"`
}

// Add appends f unless a finding with the same rule id is already present.
func (o *ValidationOutcome) Add(f Finding) {
	for _, existing := range o.Findings {
		if existing.RuleID == f.RuleID {
			return
		}
	}
	o.Findings = append(o.Findings, f)
}

// HasCritical reports whether any finding is critical.
func (o ValidationOutcome) HasCritical() bool {
	for _, f := range o.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AnomalyResult is the anomaly detector's verdict for one record.
// Findings carries anomaly and low-sample flags in detection order.
type AnomalyResult struct {
	IsAnomalyTemp bool      `json:"is_anomaly_temp"`
	IsAnomalyWind bool      `json:"is_anomaly_wind"`
	Findings      []Finding `json:"findings,omitempty"`
}

// QualityResult is the scored outcome for one record.
type QualityResult struct {
	EventID       string   `json:"event_id"`
	Score         int      `json:"data_quality_score"`
	Flags         []string `json:"dq_flags"`
	IsAnomalyTemp bool     `json:"is_anomaly_temp"`
	IsAnomalyWind bool     `json:"is_anomaly_wind"`
	Critical      bool     `json:"-"`
}

// EvaluatedRecord pairs a record with its findings and score.
type EvaluatedRecord struct {
	Record  Record            `json:"record"`
	Outcome ValidationOutcome `json:"-"`
	Quality QualityResult     `json:"quality"`
}

// BatchStatus is a state of the batch state machine.
type BatchStatus string

const (
	BatchPending     BatchStatus = "pending"
	BatchFetching    BatchStatus = "fetching"
	BatchNormalizing BatchStatus = "normalizing"
	BatchValidating  BatchStatus = "validating"
	BatchScoring     BatchStatus = "scoring"
	BatchCompleted   BatchStatus = "completed"
	BatchFailed      BatchStatus = "failed"
)

// FailureReason explains why a location dropped out of a batch.
type FailureReason string

const (
	ReasonRetriesExhausted FailureReason = "retries_exhausted"
	ReasonProviderRejected FailureReason = "provider_rejected"
	ReasonSchemaError      FailureReason = "schema_error"
	ReasonDeadlineExceeded FailureReason = "deadline_exceeded"
	ReasonCanceled         FailureReason = "canceled"
)

// LocationFailure records a location that produced no records.
type LocationFailure struct {
	Location string        `json:"location"`
	Reason   FailureReason `json:"reason"`
	Fatal    bool          `json:"fatal"`
	Detail   string        `json:"detail,omitempty"`
}

// SeverityCounts tallies distinct flags across a batch.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Anomaly  int `json:"anomaly"`
}

// BatchReport is the terminal artifact of one run.
type BatchReport struct {
	BatchID            string            `json:"batch_id"`
	TimeRange          TimeRange         `json:"time_range"`
	RequestedLocations []string          `json:"requested_locations"`
	FetchedLocations   []string          `json:"fetched_locations"`
	FailedLocations    []LocationFailure `json:"failed_locations"`
	Counts             SeverityCounts    `json:"severity_counts"`
	RecordsTotal       int               `json:"records_total"`
	RecordsPassed      int               `json:"records_passed"`
	RecordsFailed      int               `json:"records_failed"`
	MeanScore          float64           `json:"mean_score"`
	Overall            BatchStatus       `json:"overall"`
	GeneratedAt        time.Time         `json:"generated_at"`

	Records []EvaluatedRecord `json:"-"`
}

// Succeeded reports whether the batch completed without critical findings.
func (r BatchReport) Succeeded() bool {
	return r.Overall == BatchCompleted
}

// AlertType names an alerting event.
type AlertType string

const (
	AlertBatchFailed AlertType = "batch_failed"
	AlertSchemaDrift AlertType = "schema_drift"
)

// AlertEvent is handed to the alerting collaborator.
type AlertEvent struct {
	Type       AlertType `json:"type"`
	BatchID    string    `json:"batch_id"`
	Location   string    `json:"location,omitempty"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MartRow is the published shape of one evaluated record: the canonical
// columns followed by its quality columns.
type MartRow struct {
	Record
	BatchID       string   `json:"batch_id"`
	Score         int      `json:"data_quality_score"`
	Flags         []string `json:"dq_flags"`
	IsAnomalyTemp bool     `json:"is_anomaly_temp"`
	IsAnomalyWind bool     `json:"is_anomaly_wind"`
}

// NewMartRow flattens an evaluated record for the mart.
func NewMartRow(batchID string, er EvaluatedRecord) MartRow {
	flags := er.Quality.Flags
	if flags == nil {
		flags = []string{}
	}
	return MartRow{
		Record:        er.Record,
		BatchID:       batchID,
		Score:         er.Quality.Score,
		Flags:         flags,
		IsAnomalyTemp: er.Quality.IsAnomalyTemp,
		IsAnomalyWind: er.Quality.IsAnomalyWind,
	}
}

// MarshalJSON writes a null event_timestamp as JSON null instead of the zero
// time.
func (m MartRow) MarshalJSON() ([]byte, error) {
	type row MartRow
	out := struct {
		row
		EventTimestamp *time.Time `json:"event_timestamp"`
	}{row: row(m)}
	if !m.EventTimestamp.IsZero() {
		ts := m.EventTimestamp.UTC()
		out.EventTimestamp = &ts
	}
	return json.Marshal(out)
}
