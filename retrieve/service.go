package retrieve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sroyama/dicom-server/blob"
	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/index"
	"github.com/sroyama/dicom-server/metric"
	"github.com/sroyama/dicom-server/pkg/cache"
)

// Config tunes the retrieval pipeline.
type Config struct {
	// MaxObjectSizeBytes bounds full-object downloads for transcoding
	// and frame extraction. Exceeding it fails with NotAcceptable, not a
	// server error. Zero disables the check.
	MaxObjectSizeBytes int64
}

// Request is one retrieval. The identifier may be study-, series- or
// instance-level; Frames holds 1-based frame numbers and requires a
// fully-qualified identifier.
type Request struct {
	Identifier  dicom.InstanceIdentifier
	Frames      []int
	Preferences []Preference
}

// Response carries the negotiated representation and the lazy unit
// sequence. PartCount is the number of units the sequence will produce;
// IsTranscoded reports whether payload bytes were converted.
type Response struct {
	MediaType      string
	TransferSyntax string
	SinglePart     bool
	PartCount      int
	IsTranscoded   bool
	Units          Sequence
}

// Service is the retrieval pipeline.
type Service struct {
	index      index.Store
	blobs      blob.Store
	transcoder Transcoder
	extractor  FrameExtractor

	metadata *cache.Flight[dicom.InstanceIdentifier, []dicom.InstanceMetadata]
	frames   *cache.Flight[dicom.VersionedInstanceIdentifier, dicom.FrameRangeIndex]

	maxObjectSize int64
	metrics       *metric.Metrics
	logger        *slog.Logger
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

// WithTranscoder replaces the default deflate transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(s *Service) { s.transcoder = t }
}

// WithFrameExtractor replaces the default (unsupported) extractor.
func WithFrameExtractor(e FrameExtractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithMetadataCache replaces the backing store of the instance-metadata
// cache.
func WithMetadataCache(c cache.Cache[[]dicom.InstanceMetadata]) Option {
	return func(s *Service) {
		s.metadata = cache.NewFlight[dicom.InstanceIdentifier, []dicom.InstanceMetadata](c)
	}
}

// WithFrameRangeCache replaces the backing store of the frame-layout
// cache.
func WithFrameRangeCache(c cache.Cache[dicom.FrameRangeIndex]) Option {
	return func(s *Service) {
		s.frames = cache.NewFlight[dicom.VersionedInstanceIdentifier, dicom.FrameRangeIndex](c)
	}
}

// NewService creates the pipeline with single-flight caches for
// instance metadata and frame layouts.
func NewService(idx index.Store, blobs blob.Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		index:         idx,
		blobs:         blobs,
		transcoder:    NewDeflateTranscoder(),
		extractor:     UnsupportedFrameExtractor{},
		maxObjectSize: cfg.MaxObjectSizeBytes,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metadata == nil {
		s.metadata = cache.NewFlight[dicom.InstanceIdentifier, []dicom.InstanceMetadata](
			newSimpleCache[[]dicom.InstanceMetadata]())
	}
	if s.frames == nil {
		s.frames = cache.NewFlight[dicom.VersionedInstanceIdentifier, dicom.FrameRangeIndex](
			newSimpleCache[dicom.FrameRangeIndex]())
	}
	return s
}

func newSimpleCache[V any]() cache.Cache[V] {
	c, err := cache.NewSimple[V]()
	if err != nil {
		return cache.NewNoop[V]()
	}
	return c
}

// Retrieve resolves the request into a lazy unit sequence. All
// negotiation, existence and frame-number validation happens here,
// before any unit is produced; only per-object blob absence surfaces
// later, while the sequence drains.
func (s *Service) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := s.retrieve(ctx, req)

	status := "ok"
	if err != nil {
		status = errors.Classify(err).String()
		s.recordError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordRequest("retrieve", status)
		s.metrics.RecordProcessingDuration("retrieve", time.Since(start))
	}
	return resp, err
}

func (s *Service) retrieve(ctx context.Context, req Request) (*Response, error) {
	level, err := requestLevel(req)
	if err != nil {
		return nil, err
	}

	accept, err := ResolveAccept(level, req.Preferences)
	if err != nil {
		return nil, err
	}

	if level == dicom.LevelFrames && accept.SinglePart && len(req.Frames) > 1 {
		return nil, errors.WrapInvalid(errors.ErrNotAcceptable, "RetrieveService", "Retrieve",
			"deliver multiple frames in a single-part response")
	}

	metas, err := s.lookupMetadata(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	// Multi-instance responses must stream cheaply; an explicit transfer
	// syntax against them is rejected before any unit is produced, even
	// when every stored syntax already matches the requested one.
	if len(metas) > 1 && !dicom.IsOriginalRequested(accept.TransferSyntax) {
		return nil, errors.WrapInvalid(errors.ErrNotAcceptable, "RetrieveService", "Retrieve",
			"transcode a multi-instance response")
	}

	if level == dicom.LevelFrames {
		return s.retrieveFrames(ctx, accept, metas[0], req.Frames)
	}
	return s.retrieveInstances(ctx, level, accept, metas)
}

// requestLevel derives and validates the request granularity.
func requestLevel(req Request) (dicom.ResourceLevel, error) {
	if err := req.Identifier.Validate(); err != nil {
		return 0, errors.WrapInvalid(errors.ErrBadRequest, "RetrieveService", "Retrieve", err.Error())
	}

	if len(req.Frames) == 0 {
		return req.Identifier.Level(), nil
	}

	if req.Identifier.Level() != dicom.LevelInstance {
		return 0, errors.WrapInvalid(errors.ErrBadRequest, "RetrieveService", "Retrieve",
			"address frames without a fully-qualified instance identifier")
	}
	for _, f := range req.Frames {
		if f < 1 {
			return 0, errors.WrapInvalid(errors.ErrBadRequest, "RetrieveService", "Retrieve",
				fmt.Sprintf("parse frame number %d", f))
		}
	}
	return dicom.LevelFrames, nil
}

// lookupMetadata resolves matching instances. Instance-level lookups go
// through the single-flight cache; study and series listings always hit
// the index so freshly ingested instances appear immediately.
func (s *Service) lookupMetadata(ctx context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error) {
	if id.Level() != dicom.LevelInstance {
		return s.index.Metadata(ctx, id)
	}
	return s.metadata.Get(ctx, id.String(), id,
		func(ctx context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error) {
			return s.index.Metadata(ctx, id)
		})
}

// InvalidateMetadata drops the cached metadata for one instance. Called
// after a logical delete.
func (s *Service) InvalidateMetadata(id dicom.InstanceIdentifier) {
	_ = s.metadata.Invalidate(id.String())
}

// retrieveInstances serves study, series and instance requests.
func (s *Service) retrieveInstances(ctx context.Context, level dicom.ResourceLevel,
	accept ResolvedAccept, metas []dicom.InstanceMetadata) (*Response, error) {

	resp := &Response{
		MediaType:      accept.MediaType,
		TransferSyntax: accept.TransferSyntax,
		SinglePart:     accept.SinglePart,
		PartCount:      len(metas),
	}

	// Single instance needing conversion: download fully, transcode,
	// wrap as one buffered unit.
	if len(metas) == 1 && !dicom.TransferSyntaxEqual(metas[0].TransferSyntaxUID, accept.TransferSyntax) {
		meta := metas[0]
		data, err := s.download(ctx, meta.VersionedInstanceIdentifier)
		if err != nil {
			return nil, err
		}

		out, err := s.transcoder.Transcode(ctx, data, meta.TransferSyntaxUID, accept.TransferSyntax)
		if s.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			s.metrics.RecordTranscode(status, int64(len(data)))
		}
		if err != nil {
			return nil, err
		}

		resp.IsTranscoded = true
		resp.Units = s.instrumented(level, newLazySequence(1, func(_ context.Context, _ int) (*RetrievalUnit, error) {
			return bufferedUnit(out, accept.TransferSyntax), nil
		}))
		return resp, nil
	}

	// Streaming path: one unit per matched instance, opened only when
	// the consumer asks for it. A full instance is never buffered.
	resp.Units = s.instrumented(level, newLazySequence(len(metas), func(ctx context.Context, i int) (*RetrievalUnit, error) {
		vid := metas[i].VersionedInstanceIdentifier

		props, err := s.blobs.Properties(ctx, vid)
		if err != nil {
			return nil, err
		}
		stream, err := s.blobs.Stream(ctx, vid)
		if err != nil {
			return nil, err
		}
		return &RetrievalUnit{
			Content:        stream,
			TransferSyntax: responseTransferSyntax(metas[i].TransferSyntaxUID, accept),
			Length:         props.Length,
		}, nil
	}))
	return resp, nil
}

// retrieveFrames serves frame requests. Instances carrying a
// precomputed frame layout and needing no conversion take the byte-range
// fast path; everything else downloads the object and goes through the
// frame extractor.
func (s *Service) retrieveFrames(ctx context.Context, accept ResolvedAccept,
	meta dicom.InstanceMetadata, frames []int) (*Response, error) {

	vid := meta.VersionedInstanceIdentifier
	transcode := !dicom.TransferSyntaxEqual(meta.TransferSyntaxUID, accept.TransferSyntax)

	resp := &Response{
		MediaType:      accept.MediaType,
		TransferSyntax: accept.TransferSyntax,
		SinglePart:     accept.SinglePart,
		PartCount:      len(frames),
	}

	if meta.HasFrameMetadata && !transcode {
		layout, err := s.frames.Get(ctx, vid.String(), vid,
			func(ctx context.Context, vid dicom.VersionedInstanceIdentifier) (dicom.FrameRangeIndex, error) {
				return s.index.FrameRanges(ctx, vid)
			})
		if err != nil {
			return nil, err
		}

		// Every requested frame is validated before any unit is
		// produced; a bad number fails the request, never truncates it.
		ranges := make([]dicom.FrameRange, len(frames))
		for i, f := range frames {
			fr, ok := layout[f-1]
			if !ok {
				return nil, errors.WrapNotFound(errors.ErrFrameNotFound, "RetrieveService", "Retrieve",
					fmt.Sprintf("locate frame %d of %s", f, vid.String()))
			}
			ranges[i] = fr
		}

		resp.Units = s.instrumented(dicom.LevelFrames, newLazySequence(len(frames),
			func(ctx context.Context, i int) (*RetrievalUnit, error) {
				rc, err := s.blobs.Range(ctx, vid, ranges[i])
				if err != nil {
					return nil, err
				}
				return &RetrievalUnit{
					Content:        rc,
					TransferSyntax: responseTransferSyntax(meta.TransferSyntaxUID, accept),
					Length:         ranges[i].Length,
				}, nil
			}))
		return resp, nil
	}

	// Fallback: download the object and extract frames, converting if
	// the negotiated syntax differs from the stored one.
	data, err := s.download(ctx, vid)
	if err != nil {
		return nil, err
	}

	original := dicom.IsOriginalRequested(accept.TransferSyntax)
	extracted, err := s.extractor.ExtractFrames(ctx, data, frames, original, accept.TransferSyntax)
	if transcode && s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordTranscode(status, int64(len(data)))
	}
	if err != nil {
		return nil, err
	}
	if len(extracted) != len(frames) {
		return nil, errors.WrapTransient(errors.ErrTranscode, "RetrieveService", "Retrieve",
			fmt.Sprintf("extract %d frames (got %d)", len(frames), len(extracted)))
	}

	unitSyntax := responseTransferSyntax(meta.TransferSyntaxUID, accept)
	if transcode {
		unitSyntax = accept.TransferSyntax
	}
	resp.IsTranscoded = transcode

	resp.Units = s.instrumented(dicom.LevelFrames, newLazySequence(len(extracted),
		func(_ context.Context, i int) (*RetrievalUnit, error) {
			return bufferedUnit(extracted[i], unitSyntax), nil
		}))
	return resp, nil
}

// responseTransferSyntax picks the syntax a delivered unit reports:
// the stored syntax when recorded, else the requested value. Legacy
// rows predate syntax recording, so the request sentinel is the only
// truthful answer for them.
func responseTransferSyntax(stored string, accept ResolvedAccept) string {
	if stored != "" {
		return stored
	}
	return accept.TransferSyntax
}

// download reads a whole object into memory, enforcing the configured
// size bound first.
func (s *Service) download(ctx context.Context, vid dicom.VersionedInstanceIdentifier) ([]byte, error) {
	props, err := s.blobs.Properties(ctx, vid)
	if err != nil {
		return nil, err
	}
	if s.maxObjectSize > 0 && props.Length > s.maxObjectSize {
		return nil, errors.WrapInvalid(errors.ErrNotAcceptable, "RetrieveService", "Retrieve",
			fmt.Sprintf("download %d bytes for conversion (limit %d)", props.Length, s.maxObjectSize))
	}

	stream, err := s.blobs.Stream(ctx, vid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, errors.WrapTransient(err, "RetrieveService", "Retrieve", "download object")
	}
	return data, nil
}

// instrumented wraps a sequence to count produced parts.
func (s *Service) instrumented(level dicom.ResourceLevel, seq Sequence) Sequence {
	if s.metrics == nil {
		return seq
	}
	return &countingSequence{inner: seq, resource: level.String(), metrics: s.metrics}
}

type countingSequence struct {
	inner    Sequence
	resource string
	metrics  *metric.Metrics
}

func (c *countingSequence) Next(ctx context.Context) (*RetrievalUnit, error) {
	unit, err := c.inner.Next(ctx)
	if err == nil {
		c.metrics.RecordPartProduced(c.resource)
	}
	return unit, err
}

func (s *Service) recordError(err error) {
	if s.metrics != nil {
		s.metrics.RecordError("retrieve", errors.Classify(err).String())
	}
}
