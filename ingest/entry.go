// Package ingest validates and durably commits batches of submitted
// instances. Entries are processed independently in submission order;
// one entry's failure never aborts the batch or any other entry.
package ingest

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// Entry is one submitted instance within a batch. Implementations own
// whatever transient resources back the payload (buffers, temp files)
// and release them in Dispose, which the pipeline calls out of band.
type Entry interface {
	// Dataset materializes the submitted attributes.
	Dataset(ctx context.Context) (*dicom.Dataset, error)

	// Content opens the payload bytes for storage.
	Content() (io.Reader, error)

	// Length is the payload size in bytes.
	Length() int64

	// Dispose releases the entry's transient resources. Idempotent.
	Dispose() error
}

// BytesEntry is an Entry over an in-memory payload.
type BytesEntry struct {
	ds       *dicom.Dataset
	payload  []byte
	disposed atomic.Bool
}

// NewBytesEntry creates an entry from a parsed dataset and its payload.
func NewBytesEntry(ds *dicom.Dataset, payload []byte) *BytesEntry {
	return &BytesEntry{ds: ds, payload: payload}
}

func (e *BytesEntry) Dataset(_ context.Context) (*dicom.Dataset, error) {
	if e.ds == nil {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "BytesEntry", "Dataset",
			"materialize dataset")
	}
	return e.ds, nil
}

func (e *BytesEntry) Content() (io.Reader, error) {
	if e.disposed.Load() {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "BytesEntry", "Content",
			"open disposed entry")
	}
	return bytes.NewReader(e.payload), nil
}

func (e *BytesEntry) Length() int64 {
	return int64(len(e.payload))
}

func (e *BytesEntry) Dispose() error {
	if e.disposed.CompareAndSwap(false, true) {
		e.payload = nil
	}
	return nil
}
