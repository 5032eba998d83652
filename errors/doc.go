// Package errors implements the error taxonomy shared by the ingestion and
// retrieval pipelines.
//
// # Classification
//
// Every error belongs to one of five classes: Transient (caller may retry),
// Invalid (bad input, do not retry), NotFound (missing resource), Conflict
// (duplicate or in-flight resource), and Fatal (deployment defect, stop).
// Classification is carried through wrapping chains and inspected with
// errors.Is/errors.As; no string matching.
//
// # Taxonomy
//
// The standard variables mirror the store contracts:
//
//   - ErrNotFound: no matching index row
//   - ErrObjectNotFound: index row exists, bytes missing (data integrity;
//     never folded into ErrNotFound)
//   - ErrNotAcceptable: negotiation failure, size limit, multi-instance
//     transcode
//   - ErrBadRequest, ErrValidationFailure
//   - ErrConflict, ErrPendingConflict
//   - ErrTranscode, ErrUnsupportedConversion, ErrFrameNotFound
//   - ErrConfiguration: fatal, e.g. no store implementation for the active
//     schema version
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: %w":
//
//	return errors.WrapInvalid(err, "Validator", "Validate", "study UID check")
//
// HTTPStatus maps any pipeline error to the caller-facing status code.
//
// No error in this taxonomy is retried automatically by the engine itself;
// retry is a client or orchestration-layer concern.
package errors
