package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/fetch"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/couchcryptid/weather-quality-etl/internal/quality"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrBatchInProgress is returned when RunBatch is called while another run is active.
var ErrBatchInProgress = errors.New("batch already in progress")

// Fetcher retrieves one location's raw payload, retries included.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.Location, tr domain.TimeRange) (fetch.Result, error)
}

// RawSink stores the write-once audit copy of a provider response.
type RawSink interface {
	WriteRaw(ctx context.Context, a domain.RawArchive) (string, error)
}

// StagingSink receives records without critical findings.
type StagingSink interface {
	WriteStaging(ctx context.Context, batchID string, records []domain.EvaluatedRecord) error
}

// MartSink receives every evaluated record.
type MartSink interface {
	WriteMart(ctx context.Context, batchID string, records []domain.EvaluatedRecord) error
}

// ReportSink receives the batch report.
type ReportSink interface {
	WriteReport(ctx context.Context, report domain.BatchReport) error
}

// Alerter delivers alert events.
type Alerter interface {
	Alert(ctx context.Context, ev domain.AlertEvent) error
}

// StatsRepository persists rolling statistics samples across restarts.
type StatsRepository interface {
	LoadSamples(ctx context.Context, since time.Time) ([]stats.Sample, error)
	SaveSamples(ctx context.Context, samples []stats.Sample, cutoff time.Time) error
}

// Sinks are the optional outbound collaborators. Nil members are skipped.
type Sinks struct {
	Raw     RawSink
	Staging StagingSink
	Mart    MartSink
	Reports []ReportSink
	Alerter Alerter
	Stats   StatsRepository
}

// Options tune a batch run.
type Options struct {
	Concurrency        int
	Spacing            time.Duration
	BatchTimeout       time.Duration
	FreshnessSLA       time.Duration
	Sigma              float64
	CompletenessWindow quality.CompletenessWindow
}

// DefaultOptions mirror the service defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:        5,
		BatchTimeout:       15 * time.Minute,
		FreshnessSLA:       48 * time.Hour,
		Sigma:              quality.DefaultSigma,
		CompletenessWindow: quality.WindowRange,
	}
}

// Orchestrator runs Fetch -> Normalize -> Validate -> Detect -> Score for all
// locations of a batch and decides the overall outcome.
type Orchestrator struct {
	fetcher   Fetcher
	store     *stats.Store
	validator *quality.Validator
	detector  *quality.Detector
	sinks     Sinks
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	newID     func() string

	running atomic.Bool
	ready   atomic.Bool

	mu     sync.RWMutex
	latest *domain.BatchReport
}

// New creates an Orchestrator. store is shared across batches.
func New(fetcher Fetcher, store *stats.Store, sinks Sinks, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		fetcher:   fetcher,
		store:     store,
		validator: quality.NewValidator(opts.CompletenessWindow),
		detector:  quality.NewDetector(opts.Sigma),
		sinks:     sinks,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		newID:     uuid.NewString,
	}
}

// Restore warms the statistics store from the repository. It is a no-op
// without a repository.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.sinks.Stats == nil {
		return nil
	}
	since := o.clock.Now().Add(-o.store.Window())
	samples, err := o.sinks.Stats.LoadSamples(ctx, since)
	if err != nil {
		return fmt.Errorf("restore stats: %w", err)
	}
	o.store.Restore(samples)
	o.metrics.StatsSeries.Set(float64(o.store.SeriesCount()))
	o.logger.Info("stats store restored", "samples", len(samples), "series", o.store.SeriesCount())
	return nil
}

// CheckReadiness returns nil once a batch has completed, or an error
// describing why the service is not yet ready.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no batch has completed yet")
	}
	return nil
}

// LatestReport returns the most recent batch report, if any.
func (o *Orchestrator) LatestReport() (domain.BatchReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.latest == nil {
		return domain.BatchReport{}, false
	}
	return *o.latest, true
}

// RunBatch fetches and evaluates every location over tr. A finished run
// always yields a report; the error is reserved for runs that never started.
func (o *Orchestrator) RunBatch(ctx context.Context, locations []domain.Location, tr domain.TimeRange) (domain.BatchReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return domain.BatchReport{}, ErrBatchInProgress
	}
	defer o.running.Store(false)

	o.metrics.BatchRunning.Set(1)
	defer o.metrics.BatchRunning.Set(0)

	b := o.newBatch(uniqueLocations(locations), tr)
	start := o.clock.Now()

	deadline := o.deadline(tr)
	fetchCtx, cancel := withClockDeadline(ctx, o.clock, deadline)
	defer cancel()

	b.transition(domain.BatchFetching)
	payloads := o.fetchAll(fetchCtx, b)

	report := o.evaluate(ctx, b, payloads)
	o.metrics.BatchDuration.Observe(o.clock.Since(start).Seconds())
	return report, nil
}

// Evaluate scores payloads that were fetched earlier, such as replayed raw
// archives. Nothing is fetched and no raw archive is written.
func (o *Orchestrator) Evaluate(ctx context.Context, payloads []domain.RawPayload, tr domain.TimeRange) (domain.BatchReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return domain.BatchReport{}, ErrBatchInProgress
	}
	defer o.running.Store(false)

	locs := make([]domain.Location, len(payloads))
	for i, p := range payloads {
		locs[i] = p.Location
	}
	b := o.newBatch(locs, tr)
	fetched := make([]*domain.RawPayload, len(payloads))
	for i := range payloads {
		b.locationState(payloads[i].Location.Name, locationFetching)
		fetched[i] = &payloads[i]
	}
	return o.evaluate(ctx, b, fetched), nil
}

// Warm folds the tracked values of slots timestamped before cutoff into the
// statistics store, skipping records with critical findings and slots older
// than the store window. It returns the payloads that still hold slots at or
// after cutoff, or that could not be normalized, together with the number of
// samples folded.
func (o *Orchestrator) Warm(payloads []domain.RawPayload, cutoff time.Time) ([]domain.RawPayload, int) {
	oldest := cutoff.Add(-o.store.Window())
	remaining := make([]domain.RawPayload, 0, len(payloads))
	folded := 0
	for _, p := range payloads {
		recs, err := normalizePayload(p)
		if err != nil {
			remaining = append(remaining, p)
			continue
		}
		current := false
		for _, r := range recs {
			if !r.EventTimestamp.Before(cutoff) {
				current = true
				continue
			}
			if r.EventTimestamp.Before(oldest) || o.validator.ValidateRecord(r).HasCritical() {
				continue
			}
			for _, f := range quality.TrackedFields {
				if v, ok := r.Value(f); ok {
					o.store.Update(r.LocationName, f, v, r.EventTimestamp)
					folded++
				}
			}
		}
		if current {
			remaining = append(remaining, p)
		}
	}
	o.metrics.StatsSeries.Set(float64(o.store.SeriesCount()))
	o.logger.Info("stats store warmed", "samples", folded, "series", o.store.SeriesCount())
	return remaining, folded
}

func (o *Orchestrator) newBatch(locs []domain.Location, tr domain.TimeRange) *batch {
	b := &batch{
		id:        o.newID(),
		tr:        tr,
		locations: locs,
		status:    domain.BatchPending,
	}
	b.logger = o.logger.With("batch_id", b.id)
	b.logger.Info("batch state", "status", b.status,
		"locations", len(locs), "start", tr.Start, "end", tr.End)
	return b
}

// deadline is the sooner of the batch timeout and the freshness bound. A
// range whose freshness bound has already passed is a backfill and only the
// batch timeout applies.
func (o *Orchestrator) deadline(tr domain.TimeRange) time.Time {
	now := o.clock.Now()
	d := now.Add(o.opts.BatchTimeout)
	if o.opts.BatchTimeout <= 0 {
		d = now.Add(DefaultOptions().BatchTimeout)
	}
	if o.opts.FreshnessSLA > 0 {
		fresh := tr.End.Add(o.opts.FreshnessSLA)
		if fresh.After(now) && fresh.Before(d) {
			d = fresh
		}
	}
	return d
}

// withClockDeadline cancels ctx once the injected clock reaches deadline,
// recording context.DeadlineExceeded as the cause. Parent cancellation keeps
// its own cause, so a shutdown is not mistaken for a cutoff.
func withClockDeadline(ctx context.Context, clock clockwork.Clock, deadline time.Time) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := clock.AfterFunc(clock.Until(deadline), func() { cancel(context.DeadlineExceeded) })
	return ctx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

// fetchAll fans out one fetch per location. Results keep location order.
func (o *Orchestrator) fetchAll(ctx context.Context, b *batch) []*domain.RawPayload {
	payloads := make([]*domain.RawPayload, len(b.locations))
	failures := make([]*domain.LocationFailure, len(b.locations))

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)

	for i, loc := range b.locations {
		if i > 0 && o.opts.Spacing > 0 {
			select {
			case <-ctx.Done():
			case <-o.clock.After(o.opts.Spacing):
			}
		}
		b.locationState(loc.Name, locationFetching)

		g.Go(func() error {
			res, err := o.fetcher.Fetch(ctx, loc, b.tr)
			if err != nil {
				failures[i] = fetchFailure(ctx, loc, err)
				return nil
			}
			payloads[i] = &res.Payload
			o.archive(ctx, b, res.Payload)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failures {
		if f != nil {
			b.fail(*f)
		}
	}
	return payloads
}

func fetchFailure(ctx context.Context, loc domain.Location, err error) *domain.LocationFailure {
	f := &domain.LocationFailure{Location: loc.Name, Detail: err.Error()}
	switch {
	case errors.Is(err, fetch.ErrRetriesExhausted):
		f.Reason = domain.ReasonRetriesExhausted
	case ctx.Err() != nil:
		f.Reason = domain.ReasonCanceled
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			f.Reason = domain.ReasonDeadlineExceeded
		}
	case errors.Is(err, context.DeadlineExceeded):
		f.Reason = domain.ReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		f.Reason = domain.ReasonCanceled
	default:
		f.Reason = domain.ReasonProviderRejected
		f.Fatal = true
	}
	return f
}

func (o *Orchestrator) archive(ctx context.Context, b *batch, p domain.RawPayload) {
	if o.sinks.Raw == nil {
		return
	}
	a := domain.NewRawArchive(o.newID(), p)
	key, err := o.sinks.Raw.WriteRaw(ctx, a)
	if err != nil {
		o.sinkError(b, "raw", err, "location", p.Location.Name)
		return
	}
	b.logger.Debug("raw archive written", "location", p.Location.Name, "key", key)
}

// evaluate runs Normalizing -> Validating -> Scoring and the commit phase.
func (o *Orchestrator) evaluate(ctx context.Context, b *batch, payloads []*domain.RawPayload) domain.BatchReport {
	b.transition(domain.BatchNormalizing)
	var records []domain.Record
	for i, p := range payloads {
		if p == nil {
			continue
		}
		loc := b.locations[i].Name
		b.locationState(loc, locationNormalizing)
		recs, err := normalizePayload(*p)
		if err != nil {
			b.logger.Warn("schema drift", "location", loc, "error", err)
			b.fail(domain.LocationFailure{Location: loc, Reason: domain.ReasonSchemaError, Fatal: true, Detail: err.Error()})
			o.alert(ctx, b, domain.AlertEvent{
				Type:     domain.AlertSchemaDrift,
				BatchID:  b.id,
				Location: loc,
				Detail:   err.Error(),
			})
			continue
		}
		b.fetched = append(b.fetched, loc)
		records = append(records, recs...)
	}

	b.transition(domain.BatchValidating)
	for _, loc := range b.fetched {
		b.locationState(loc, locationValidating)
	}
	outcomes := o.validator.ValidateBatch(records, b.tr)

	b.transition(domain.BatchScoring)
	for _, loc := range b.fetched {
		b.locationState(loc, locationScoring)
	}
	evaluated := make([]domain.EvaluatedRecord, len(records))
	for i, r := range records {
		anomaly := o.detector.Detect(r, o.store)
		evaluated[i] = domain.EvaluatedRecord{
			Record:  r,
			Outcome: outcomes[i],
			Quality: quality.Score(r, outcomes[i], anomaly),
		}
	}

	report := o.buildReport(b, evaluated)
	for _, loc := range b.fetched {
		b.locationState(loc, locationDone)
	}
	b.transition(report.Overall)

	o.commit(ctx, b, report)
	o.observe(report)

	o.mu.Lock()
	o.latest = &report
	o.mu.Unlock()
	o.ready.Store(true)

	b.logger.Info("batch finished",
		"overall", report.Overall,
		"records_total", report.RecordsTotal,
		"records_failed", report.RecordsFailed,
		"mean_score", report.MeanScore,
		"failed_locations", len(report.FailedLocations),
	)
	return report
}

func (o *Orchestrator) buildReport(b *batch, evaluated []domain.EvaluatedRecord) domain.BatchReport {
	sum := quality.Summarize(evaluated)

	overall := domain.BatchCompleted
	if sum.RecordsFailed > 0 {
		overall = domain.BatchFailed
	}

	requested := make([]string, len(b.locations))
	for i, l := range b.locations {
		requested[i] = l.Name
	}
	fetched := b.fetched
	if fetched == nil {
		fetched = []string{}
	}
	failed := b.failures
	if failed == nil {
		failed = []domain.LocationFailure{}
	}

	return domain.BatchReport{
		BatchID:            b.id,
		TimeRange:          b.tr,
		RequestedLocations: requested,
		FetchedLocations:   fetched,
		FailedLocations:    failed,
		Counts:             sum.Counts,
		RecordsTotal:       sum.RecordsTotal,
		RecordsPassed:      sum.RecordsPassed,
		RecordsFailed:      sum.RecordsFailed,
		MeanScore:          sum.MeanScore,
		Overall:            overall,
		GeneratedAt:        o.clock.Now().UTC(),
		Records:            evaluated,
	}
}

// commit folds accepted records into the stats store and writes every sink.
// Sink errors are logged and counted; they never change the report.
func (o *Orchestrator) commit(ctx context.Context, b *batch, report domain.BatchReport) {
	accepted := make([]domain.EvaluatedRecord, 0, len(report.Records))
	var samples []stats.Sample
	for _, er := range report.Records {
		if er.Quality.Critical {
			continue
		}
		accepted = append(accepted, er)
		for _, f := range quality.TrackedFields {
			v, ok := er.Record.Value(f)
			if !ok {
				continue
			}
			o.store.Update(er.Record.LocationName, f, v, er.Record.EventTimestamp)
			samples = append(samples, stats.Sample{
				Location:  er.Record.LocationName,
				Field:     f,
				Timestamp: er.Record.EventTimestamp,
				Value:     v,
			})
		}
	}
	o.metrics.StatsSeries.Set(float64(o.store.SeriesCount()))

	if o.sinks.Stats != nil && len(samples) > 0 {
		cutoff := b.tr.End.Add(-o.store.Window())
		if err := o.sinks.Stats.SaveSamples(ctx, samples, cutoff); err != nil {
			o.sinkError(b, "stats", err)
		}
	}
	if o.sinks.Staging != nil && len(accepted) > 0 {
		if err := o.sinks.Staging.WriteStaging(ctx, b.id, accepted); err != nil {
			o.sinkError(b, "staging", err)
		}
	}
	if o.sinks.Mart != nil && len(report.Records) > 0 {
		if err := o.sinks.Mart.WriteMart(ctx, b.id, report.Records); err != nil {
			o.sinkError(b, "mart", err)
		}
	}
	for _, rs := range o.sinks.Reports {
		if err := rs.WriteReport(ctx, report); err != nil {
			o.sinkError(b, "report", err)
		}
	}
	if report.Overall == domain.BatchFailed {
		o.alert(ctx, b, domain.AlertEvent{
			Type:    domain.AlertBatchFailed,
			BatchID: b.id,
			Detail: fmt.Sprintf("%d of %d records carry critical findings",
				report.RecordsFailed, report.RecordsTotal),
		})
	}
}

func (o *Orchestrator) alert(ctx context.Context, b *batch, ev domain.AlertEvent) {
	if o.sinks.Alerter == nil {
		return
	}
	ev.OccurredAt = o.clock.Now().UTC()
	if err := o.sinks.Alerter.Alert(ctx, ev); err != nil {
		o.sinkError(b, "alert", err, "alert_type", ev.Type)
	}
}

func (o *Orchestrator) sinkError(b *batch, sink string, err error, attrs ...any) {
	o.metrics.SinkErrors.WithLabelValues(sink).Inc()
	b.logger.Error("sink write failed", append([]any{"sink", sink, "error", err}, attrs...)...)
}

func (o *Orchestrator) observe(report domain.BatchReport) {
	o.metrics.BatchRuns.WithLabelValues(string(report.Overall)).Inc()
	o.metrics.RecordsEvaluated.Add(float64(report.RecordsTotal))
	o.metrics.Findings.WithLabelValues("critical").Add(float64(report.Counts.Critical))
	o.metrics.Findings.WithLabelValues("warning").Add(float64(report.Counts.Warning))
	o.metrics.Findings.WithLabelValues("info").Add(float64(report.Counts.Info))
	o.metrics.Findings.WithLabelValues("anomaly").Add(float64(report.Counts.Anomaly))
	for _, f := range report.FailedLocations {
		o.metrics.LocationsFailed.WithLabelValues(string(f.Reason)).Inc()
	}
	for _, er := range report.Records {
		o.metrics.QualityScore.Observe(float64(er.Quality.Score))
	}
}

// uniqueLocations drops repeated names so each location is fetched at most once.
func uniqueLocations(locs []domain.Location) []domain.Location {
	seen := make(map[string]bool, len(locs))
	out := make([]domain.Location, 0, len(locs))
	for _, l := range locs {
		if seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		out = append(out, l)
	}
	return out
}
