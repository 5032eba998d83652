package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sroyama/dicom-server/blob"
	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/index"
	"github.com/sroyama/dicom-server/metric"
	"github.com/sroyama/dicom-server/pkg/worker"
)

// multiValueAdvisory is the batch-level message raised when any entry
// carried a multi-valued indexed attribute.
const multiValueAdvisory = "one or more entries carry multi-valued indexed attributes; only the first value is indexed"

// Config tunes the ingestion pipeline.
type Config struct {
	// Lenient strips invalid non-core attributes instead of failing the
	// entry.
	Lenient bool

	// MaxEntrySizeBytes rejects larger payloads at validation. Zero
	// disables the check.
	MaxEntrySizeBytes int64

	// Disposal pool sizing.
	DisposalWorkers     int
	DisposalQueueSize   int
	DisposalStopTimeout time.Duration
}

// Request is one batch submission.
type Request struct {
	PartitionKey int

	// StudyUID, when non-empty, requires every entry to belong to this
	// study.
	StudyUID string

	Entries []Entry
}

// disposal is the out-of-band cleanup for one processed entry: release
// the entry's resources and, after a failed store, remove the orphaned
// blob and the stale pending row.
type disposal struct {
	entry   Entry
	blob    *dicom.VersionedInstanceIdentifier
	pending *pendingRow
}

type pendingRow struct {
	partitionKey int
	ds           *dicom.Dataset
	version      int64
}

// Service is the ingestion pipeline.
type Service struct {
	index     index.Store
	blobs     blob.Store
	validator *Validator
	disposals *worker.Pool[disposal]

	maxEntrySize int64
	stopTimeout  time.Duration

	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the pipeline. Call Start before submitting batches
// so disposals are processed, and Stop on shutdown to drain them.
func NewService(idx index.Store, blobs blob.Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		index:        idx,
		blobs:        blobs,
		validator:    NewValidator(cfg.Lenient),
		maxEntrySize: cfg.MaxEntrySizeBytes,
		stopTimeout:  cfg.DisposalStopTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = 10 * time.Second
	}

	s.disposals = worker.NewPool(cfg.DisposalWorkers, cfg.DisposalQueueSize, s.dispose)
	return s
}

// Start starts the disposal workers.
func (s *Service) Start(ctx context.Context) error {
	return s.disposals.Start(ctx)
}

// Stop drains queued disposals.
func (s *Service) Stop() error {
	return s.disposals.Stop(s.stopTimeout)
}

// Ingest processes one batch. Entries run in submission order and fail
// independently; the response always carries one outcome per entry.
func (s *Service) Ingest(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if len(req.Entries) == 0 {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "IngestService", "Ingest",
			"process empty batch")
	}
	if req.StudyUID != "" && !dicom.ValidUID(req.StudyUID) {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "IngestService", "Ingest",
			fmt.Sprintf("parse required study UID %q", req.StudyUID))
	}

	outcomes := make([]EntryOutcome, 0, len(req.Entries))
	advisory := false

	for seq, entry := range req.Entries {
		outcome, raisedAdvisory := s.processEntry(ctx, req, seq, entry)
		outcomes = append(outcomes, outcome)
		advisory = advisory || raisedAdvisory

		if s.metrics != nil {
			s.metrics.RecordInstanceIngested(string(outcome.Status))
		}
	}

	resp := &Response{
		BatchID:  uuid.NewString(),
		Status:   batchStatus(outcomes),
		Outcomes: outcomes,
	}
	if advisory {
		resp.Advisory = multiValueAdvisory
	}

	if s.metrics != nil {
		s.metrics.RecordRequest("ingest", resp.Status.String())
		s.metrics.RecordProcessingDuration("ingest", time.Since(start))
	}

	s.logger.Info("batch processed",
		"batch_id", resp.BatchID,
		"status", resp.Status.String(),
		"entries", len(outcomes))

	return resp, nil
}

// processEntry runs the pipeline for one entry: materialize, validate,
// provisional row, blob write, commit. Cleanup after any failure runs
// out of band.
func (s *Service) processEntry(ctx context.Context, req Request, seq int, entry Entry) (EntryOutcome, bool) {
	outcome := EntryOutcome{Sequence: seq}
	cleanup := disposal{entry: entry}
	defer func() { s.enqueueDisposal(cleanup) }()

	fail := func(err error) (EntryOutcome, bool) {
		outcome.Status = EntryFailed
		outcome.Failure = failureFrom(err)
		s.recordError(err)
		return outcome, false
	}

	ds, err := entry.Dataset(ctx)
	if err != nil {
		return fail(errors.WrapInvalid(err, "IngestService", "Ingest", "materialize entry"))
	}

	if s.maxEntrySize > 0 && entry.Length() > s.maxEntrySize {
		return fail(errors.WrapInvalid(errors.ErrValidationFailure, "IngestService", "Ingest",
			fmt.Sprintf("accept payload of %d bytes (limit %d)", entry.Length(), s.maxEntrySize)))
	}

	result, err := s.validator.Validate(ds, req.StudyUID)
	if err != nil {
		return fail(err)
	}
	outcome.Warnings = result.EntryWarnings
	if len(result.Stripped) > 0 {
		s.logger.Warn("stripped invalid attributes", "attributes", result.Stripped)
	}

	id := ds.Identifier(req.PartitionKey)
	outcome.Identifier = id

	version, err := s.index.CreateProvisional(ctx, req.PartitionKey, ds)
	if err != nil {
		o, _ := fail(err)
		return o, len(result.Advisories) > 0
	}
	cleanup.pending = &pendingRow{partitionKey: req.PartitionKey, ds: ds, version: version}

	vid := dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: version}

	content, err := entry.Content()
	if err != nil {
		o, _ := fail(errors.WrapInvalid(err, "IngestService", "Ingest", "open entry payload"))
		return o, len(result.Advisories) > 0
	}

	props, err := s.blobs.Put(ctx, vid, content)
	if err != nil {
		cleanup.blob = &vid
		o, _ := fail(err)
		return o, len(result.Advisories) > 0
	}
	cleanup.blob = &vid

	if err := s.index.Commit(ctx, req.PartitionKey, ds, version); err != nil {
		o, _ := fail(err)
		return o, len(result.Advisories) > 0
	}

	// Committed: the blob and row are durable, only entry resources need
	// disposal.
	cleanup.blob = nil
	cleanup.pending = nil

	outcome.Status = EntrySucceeded
	outcome.Version = version
	if s.metrics != nil {
		s.metrics.RecordInstanceLength(props.Length)
	}

	return outcome, len(result.Advisories) > 0
}

// enqueueDisposal hands cleanup to the worker pool. Failures to enqueue
// are logged, never surfaced to the caller.
func (s *Service) enqueueDisposal(d disposal) {
	if err := s.disposals.Submit(d); err != nil {
		s.logger.Warn("disposal not enqueued", "error", err)
	}
}

// dispose runs one cleanup task: best-effort, each step independent.
func (s *Service) dispose(ctx context.Context, d disposal) error {
	var failed error

	if d.blob != nil {
		if err := s.blobs.Delete(ctx, *d.blob); err != nil {
			s.logger.Warn("orphaned blob not removed", "id", d.blob.String(), "error", err)
			failed = err
		}
	}
	if d.pending != nil {
		if err := s.index.Discard(ctx, d.pending.partitionKey, d.pending.ds, d.pending.version); err != nil {
			s.logger.Warn("stale pending row not removed",
				"id", d.pending.ds.Identifier(d.pending.partitionKey).String(),
				"version", d.pending.version,
				"error", err)
			failed = err
		}
	}
	if d.entry != nil {
		if err := d.entry.Dispose(); err != nil {
			s.logger.Warn("entry resources not released", "error", err)
			failed = err
		}
	}

	return failed
}

// recordError feeds the error counter.
func (s *Service) recordError(err error) {
	if s.metrics != nil {
		s.metrics.RecordError("ingest", errors.Classify(err).String())
	}
}
