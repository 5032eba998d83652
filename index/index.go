// Package index records instance existence, per-instance properties and
// lifecycle state in a JetStream key-value bucket. Rows move through
// pending, committed and deleted states; only committed rows are visible
// to metadata queries.
package index

import (
	"context"

	"github.com/sroyama/dicom-server/dicom"
)

// Store is the metadata contract the pipelines consume. Implementations
// exist per storage schema version and are dispatched through a
// versioned resolver.
type Store interface {
	// CreateProvisional allocates a new version from the partition
	// watermark and writes a pending index row. It fails with Conflict
	// if the instance is already committed and PendingConflict if a
	// concurrent writer holds a pending row.
	CreateProvisional(ctx context.Context, partitionKey int, ds *dicom.Dataset) (int64, error)

	// Commit flips the pending row written by CreateProvisional to
	// committed. It fails with Conflict if another writer committed the
	// instance first and PendingConflict if the pending row belongs to a
	// different version.
	Commit(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error

	// Discard removes the pending row written by CreateProvisional after
	// a failed ingestion. Rows in any other state, or pending under a
	// different version, are left alone.
	Discard(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error

	// Metadata returns the committed instances matching the identifier
	// at its granularity: one row for instance-level identifiers, all
	// committed rows under the study or series otherwise. Zero matches
	// fail with NotFound. Order is stable across calls.
	Metadata(ctx context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error)

	// FrameRanges returns the frame byte layout recorded for one
	// instance version, failing with NotFound when none was recorded.
	FrameRanges(ctx context.Context, id dicom.VersionedInstanceIdentifier) (dicom.FrameRangeIndex, error)

	// Delete marks the committed row deleted and returns the versioned
	// identifier of the copy, so the caller can dispose the blob.
	Delete(ctx context.Context, id dicom.InstanceIdentifier) (dicom.VersionedInstanceIdentifier, error)
}
