// Package engine composes the index, the blob store and the two
// pipelines into one embeddable storage engine. Callers that need only
// one pipeline can use the ingest and retrieve packages directly; the
// engine adds the cross-pipeline operations, most notably logical
// delete with blob disposal and metadata cache invalidation.
package engine

import (
	"context"
	"log/slog"

	"github.com/sroyama/dicom-server/blob"
	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/index"
	"github.com/sroyama/dicom-server/ingest"
	"github.com/sroyama/dicom-server/metric"
	"github.com/sroyama/dicom-server/pkg/cache"
	"github.com/sroyama/dicom-server/retrieve"
)

// Config groups the pipeline configurations.
type Config struct {
	Ingest   ingest.Config
	Retrieve retrieve.Config
}

// Engine is the composed storage engine.
type Engine struct {
	index     index.Store
	blobs     blob.Store
	ingester  *ingest.Service
	retriever *retrieve.Service

	logger  *slog.Logger
	metrics *metric.Metrics
}

type options struct {
	logger        *slog.Logger
	metrics       *metric.Metrics
	transcoder    retrieve.Transcoder
	extractor     retrieve.FrameExtractor
	metadataCache cache.Cache[[]dicom.InstanceMetadata]
	frameCache    cache.Cache[dicom.FrameRangeIndex]
}

// Option configures the engine.
type Option func(*options)

// WithLogger sets the structured logger for both pipelines.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTranscoder replaces the built-in deflate transcoder.
func WithTranscoder(t retrieve.Transcoder) Option {
	return func(o *options) { o.transcoder = t }
}

// WithFrameExtractor sets the pixel-data codec for frame extraction.
func WithFrameExtractor(e retrieve.FrameExtractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithMetadataCache sets the instance metadata cache.
func WithMetadataCache(c cache.Cache[[]dicom.InstanceMetadata]) Option {
	return func(o *options) { o.metadataCache = c }
}

// WithFrameRangeCache sets the frame layout cache.
func WithFrameRangeCache(c cache.Cache[dicom.FrameRangeIndex]) Option {
	return func(o *options) { o.frameCache = c }
}

// New creates the engine over the given stores. Call Start before
// submitting work and Stop on shutdown.
func New(idx index.Store, blobs blob.Store, cfg Config, opts ...Option) *Engine {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	ingestOpts := []ingest.Option{ingest.WithLogger(o.logger)}
	retrieveOpts := []retrieve.Option{retrieve.WithLogger(o.logger)}
	if o.metrics != nil {
		ingestOpts = append(ingestOpts, ingest.WithMetrics(o.metrics))
		retrieveOpts = append(retrieveOpts, retrieve.WithMetrics(o.metrics))
	}
	if o.transcoder != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithTranscoder(o.transcoder))
	}
	if o.extractor != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithFrameExtractor(o.extractor))
	}
	if o.metadataCache != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithMetadataCache(o.metadataCache))
	}
	if o.frameCache != nil {
		retrieveOpts = append(retrieveOpts, retrieve.WithFrameRangeCache(o.frameCache))
	}

	return &Engine{
		index:     idx,
		blobs:     blobs,
		ingester:  ingest.NewService(idx, blobs, cfg.Ingest, ingestOpts...),
		retriever: retrieve.NewService(idx, blobs, cfg.Retrieve, retrieveOpts...),
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

// Start starts the background workers.
func (e *Engine) Start(ctx context.Context) error {
	return e.ingester.Start(ctx)
}

// Stop drains the background workers.
func (e *Engine) Stop() error {
	return e.ingester.Stop()
}

// Ingest stores a batch of instances.
func (e *Engine) Ingest(ctx context.Context, req ingest.Request) (*ingest.Response, error) {
	return e.ingester.Ingest(ctx, req)
}

// Retrieve serves stored instances or frames.
func (e *Engine) Retrieve(ctx context.Context, req retrieve.Request) (*retrieve.Response, error) {
	return e.retriever.Retrieve(ctx, req)
}

// Delete removes a single instance. The index row is flipped first so
// the instance disappears from listings immediately, then the blob is
// disposed and cached metadata dropped. A blob disposal failure leaves
// the logical delete in place; the orphaned payload is unreachable
// through the index.
func (e *Engine) Delete(ctx context.Context, id dicom.InstanceIdentifier) error {
	if err := id.Validate(); err != nil {
		return errors.WrapInvalid(err, "Engine", "Delete", "validate identifier")
	}
	if id.Level() != dicom.LevelInstance {
		return errors.WrapInvalid(errors.ErrBadRequest, "Engine", "Delete",
			"delete requires an instance identifier")
	}

	vid, err := e.index.Delete(ctx, id)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRequest("delete", "error")
		}
		return err
	}

	e.retriever.InvalidateMetadata(id)

	if err := e.blobs.Delete(ctx, vid); err != nil {
		e.logger.Warn("blob disposal after delete failed",
			"id", vid.String(), "error", err)
	}

	if e.metrics != nil {
		e.metrics.RecordRequest("delete", "ok")
	}
	e.logger.Info("instance deleted", "id", vid.String())
	return nil
}
