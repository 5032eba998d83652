package blob

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// ObjectBucket is the subset of the JetStream object store API the
// blob store uses. jetstream.ObjectStore satisfies it.
type ObjectBucket interface {
	Put(ctx context.Context, meta jetstream.ObjectMeta, reader io.Reader) (*jetstream.ObjectInfo, error)
	Get(ctx context.Context, name string, opts ...jetstream.GetObjectOpt) (jetstream.ObjectResult, error)
	GetInfo(ctx context.Context, name string, opts ...jetstream.GetObjectInfoOpt) (*jetstream.ObjectInfo, error)
	Delete(ctx context.Context, name string) error
}

// ObjectStore implements Store over a JetStream object store bucket.
type ObjectStore struct {
	bucket ObjectBucket
	logger *slog.Logger
}

// NewObjectStore creates a blob store over the given bucket.
func NewObjectStore(bucket ObjectBucket, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStore{bucket: bucket, logger: logger}
}

// Put persists the payload and returns its properties.
func (s *ObjectStore) Put(ctx context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader) (Properties, error) {
	info, err := s.bucket.Put(ctx, jetstream.ObjectMeta{Name: objectKey(id)}, r)
	if err != nil {
		return Properties{}, errors.WrapTransient(err, "ObjectStore", "Put", "persist payload")
	}

	s.logger.Debug("stored blob", "id", id.String(), "bytes", info.Size)

	return Properties{Length: int64(info.Size)}, nil
}

// Properties probes object size without reading the payload.
func (s *ObjectStore) Properties(ctx context.Context, id dicom.VersionedInstanceIdentifier) (Properties, error) {
	info, err := s.bucket.GetInfo(ctx, objectKey(id))
	if err != nil {
		return Properties{}, s.mapReadError(err, "Properties")
	}
	return Properties{Length: int64(info.Size)}, nil
}

// Stream opens a streaming read of the whole payload.
func (s *ObjectStore) Stream(ctx context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error) {
	result, err := s.bucket.Get(ctx, objectKey(id))
	if err != nil {
		return nil, s.mapReadError(err, "Stream")
	}
	return result, nil
}

// Range opens a streaming read of one byte range. The object store has
// no server-side range read, so the stream is opened from the start and
// the leading bytes are discarded before handing out a length-limited
// reader.
func (s *ObjectStore) Range(
	ctx context.Context, id dicom.VersionedInstanceIdentifier, fr dicom.FrameRange) (io.ReadCloser, error) {
	if fr.Offset < 0 || fr.Length < 0 {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "ObjectStore", "Range", "negative byte range")
	}

	result, err := s.bucket.Get(ctx, objectKey(id))
	if err != nil {
		return nil, s.mapReadError(err, "Range")
	}

	if fr.Offset > 0 {
		if _, err := io.CopyN(io.Discard, result, fr.Offset); err != nil {
			_ = result.Close()
			if err == io.EOF {
				return nil, errors.WrapInvalid(errors.ErrBadRequest, "ObjectStore", "Range",
					"byte range offset beyond object size")
			}
			return nil, errors.WrapTransient(err, "ObjectStore", "Range", "skip to range offset")
		}
	}

	return &limitedReadCloser{
		Reader: io.LimitReader(result, fr.Length),
		closer: result,
	}, nil
}

// Delete removes the payload. Deleting an absent object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	err := s.bucket.Delete(ctx, objectKey(id))
	if err != nil && !stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return errors.WrapTransient(err, "ObjectStore", "Delete", "remove payload")
	}
	return nil
}

// mapReadError classifies bucket read failures. A missing object behind
// a committed index row is a data-integrity inconsistency.
func (s *ObjectStore) mapReadError(err error, op string) error {
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		return errors.WrapFatal(errors.ErrObjectNotFound, "ObjectStore", op, "payload bytes missing")
	}
	return errors.WrapTransient(err, "ObjectStore", op, "read payload")
}

// limitedReadCloser closes the underlying object stream when the
// limited view is closed.
type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error {
	return l.closer.Close()
}
