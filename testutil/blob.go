package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sroyama/dicom-server/blob"
	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// InMemoryBlob implements blob.Store over a map. It counts currently
// open read streams so tests can assert on read laziness.
type InMemoryBlob struct {
	mu      sync.Mutex
	objects map[dicom.VersionedInstanceIdentifier][]byte

	open atomic.Int32

	// PutErr, when set, fails every Put.
	PutErr error
}

// NewInMemoryBlob creates an empty blob store.
func NewInMemoryBlob() *InMemoryBlob {
	return &InMemoryBlob{objects: make(map[dicom.VersionedInstanceIdentifier][]byte)}
}

func (s *InMemoryBlob) Put(_ context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader) (blob.Properties, error) {
	if s.PutErr != nil {
		return blob.Properties{}, s.PutErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return blob.Properties{}, errors.WrapTransient(err, "InMemoryBlob", "Put", "read payload")
	}

	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()

	return blob.Properties{Length: int64(len(data))}, nil
}

func (s *InMemoryBlob) Properties(_ context.Context, id dicom.VersionedInstanceIdentifier) (blob.Properties, error) {
	data, ok := s.get(id)
	if !ok {
		return blob.Properties{}, s.notFound("Properties")
	}
	return blob.Properties{Length: int64(len(data))}, nil
}

func (s *InMemoryBlob) Stream(_ context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error) {
	data, ok := s.get(id)
	if !ok {
		return nil, s.notFound("Stream")
	}
	return s.newReader(data), nil
}

func (s *InMemoryBlob) Range(_ context.Context, id dicom.VersionedInstanceIdentifier, fr dicom.FrameRange) (io.ReadCloser, error) {
	data, ok := s.get(id)
	if !ok {
		return nil, s.notFound("Range")
	}
	if fr.Offset < 0 || fr.Length < 0 || fr.Offset > int64(len(data)) {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "InMemoryBlob", "Range",
			"read byte range")
	}
	end := fr.Offset + fr.Length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return s.newReader(data[fr.Offset:end]), nil
}

func (s *InMemoryBlob) Delete(_ context.Context, id dicom.VersionedInstanceIdentifier) error {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	return nil
}

// Exists reports whether bytes are stored for the identifier.
func (s *InMemoryBlob) Exists(id dicom.VersionedInstanceIdentifier) bool {
	_, ok := s.get(id)
	return ok
}

// OpenStreams returns the number of read streams not yet closed.
func (s *InMemoryBlob) OpenStreams() int {
	return int(s.open.Load())
}

func (s *InMemoryBlob) get(id dicom.VersionedInstanceIdentifier) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	return data, ok
}

func (s *InMemoryBlob) notFound(op string) error {
	return errors.WrapFatal(errors.ErrObjectNotFound, "InMemoryBlob", op, "read payload")
}

func (s *InMemoryBlob) newReader(data []byte) io.ReadCloser {
	s.open.Add(1)
	return &countedReader{Reader: bytes.NewReader(data), open: &s.open}
}

type countedReader struct {
	*bytes.Reader
	open   *atomic.Int32
	closed bool
}

func (r *countedReader) Close() error {
	if !r.closed {
		r.closed = true
		r.open.Add(-1)
	}
	return nil
}
