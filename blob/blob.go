// Package blob stores instance payloads in a JetStream object store
// bucket, keyed by versioned instance identifier. Payloads are
// immutable once written; a new version of an instance gets a new key.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/sroyama/dicom-server/dicom"
)

// Properties describes a stored object.
type Properties struct {
	Length int64
}

// Store is the narrow contract the pipelines use for payload bytes.
// All reads fail with an ObjectNotFound classified error when the index
// references bytes that are absent, which is a data-integrity
// inconsistency and never silently treated as a missing instance.
type Store interface {
	// Put persists the payload under the versioned identifier and
	// returns its properties.
	Put(ctx context.Context, id dicom.VersionedInstanceIdentifier, r io.Reader) (Properties, error)

	// Properties probes object size without reading the payload.
	Properties(ctx context.Context, id dicom.VersionedInstanceIdentifier) (Properties, error)

	// Stream opens a streaming read of the whole payload.
	Stream(ctx context.Context, id dicom.VersionedInstanceIdentifier) (io.ReadCloser, error)

	// Range opens a streaming read of one byte range of the payload.
	Range(ctx context.Context, id dicom.VersionedInstanceIdentifier, fr dicom.FrameRange) (io.ReadCloser, error)

	// Delete removes the payload. Used by ingestion cleanup and logical
	// delete disposal.
	Delete(ctx context.Context, id dicom.VersionedInstanceIdentifier) error
}

// objectKey renders the bucket key for a versioned identifier.
func objectKey(id dicom.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("%d/%s/%s/%s/%d",
		id.PartitionKey, id.StudyUID, id.SeriesUID, id.SOPUID, id.Version)
}
