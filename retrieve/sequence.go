package retrieve

import (
	"bytes"
	"context"
	"io"

	"github.com/sroyama/dicom-server/errors"
)

// RetrievalUnit is one binary part of a response. The consumer owns
// Content and must close it before asking for the next unit.
type RetrievalUnit struct {
	Content        io.ReadCloser
	TransferSyntax string
	Length         int64
}

// Sequence is a lazy, finite, forward-only producer of retrieval
// units. It is not restartable and not seekable; production of the next
// unit may block on I/O. A failed Next aborts the sequence: units
// already delivered stand, no further units are produced.
type Sequence interface {
	// Next produces the next unit, or io.EOF once exhausted.
	Next(ctx context.Context) (*RetrievalUnit, error)
}

// produceFunc opens the unit at position i.
type produceFunc func(ctx context.Context, i int) (*RetrievalUnit, error)

// lazySequence pulls units one at a time through produce. Nothing is
// opened ahead of the consumer.
type lazySequence struct {
	count   int
	next    int
	produce produceFunc
	failed  error
}

func newLazySequence(count int, produce produceFunc) *lazySequence {
	return &lazySequence{count: count, produce: produce}
}

func (s *lazySequence) Next(ctx context.Context) (*RetrievalUnit, error) {
	if s.failed != nil {
		return nil, s.failed
	}
	if s.next >= s.count {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Sequence", "Next", "produce next unit")
	}

	unit, err := s.produce(ctx, s.next)
	if err != nil {
		s.failed = err
		return nil, err
	}
	s.next++
	return unit, nil
}

// bufferedUnit wraps an in-memory payload as a unit.
func bufferedUnit(data []byte, transferSyntax string) *RetrievalUnit {
	return &RetrievalUnit{
		Content:        io.NopCloser(bytes.NewReader(data)),
		TransferSyntax: transferSyntax,
		Length:         int64(len(data)),
	}
}
