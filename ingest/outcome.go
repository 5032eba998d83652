package ingest

import (
	stderrors "errors"
	"net/http"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// EntryStatus is the terminal state of one entry.
type EntryStatus string

const (
	EntrySucceeded EntryStatus = "succeeded"
	EntryFailed    EntryStatus = "failed"
)

// Failure codes attached to failed entries.
const (
	FailureValidation      = "validation-failure"
	FailureProcessing      = "processing-error"
	FailureConflict        = "conflict"
	FailurePendingConflict = "pending-conflict"
	FailureStorage         = "storage-error"
)

// Failure describes why an entry was not stored.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EntryOutcome is the per-entry result, in submission order.
type EntryOutcome struct {
	Sequence   int                      `json:"sequence"`
	Identifier dicom.InstanceIdentifier `json:"identifier,omitempty"`
	Status     EntryStatus              `json:"status"`
	Version    int64                    `json:"version,omitempty"`
	Warnings   []Warning                `json:"warnings,omitempty"`
	Failure    *Failure                 `json:"failure,omitempty"`
}

// BatchStatus is the aggregated outcome of one submission.
type BatchStatus int

const (
	// BatchComplete: every entry was stored.
	BatchComplete BatchStatus = iota
	// BatchPartial: some entries were stored, others failed.
	BatchPartial
	// BatchConflict: a single-entry batch hit a duplicate instance.
	BatchConflict
	// BatchRejected: the whole batch failed validation up front and
	// nothing was stored.
	BatchRejected
)

// HTTPStatus maps the batch status to the transport-facing code.
func (s BatchStatus) HTTPStatus() int {
	switch s {
	case BatchComplete:
		return http.StatusOK
	case BatchPartial:
		return http.StatusAccepted
	case BatchConflict:
		return http.StatusConflict
	case BatchRejected:
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}

// String returns the status name for logging and metrics.
func (s BatchStatus) String() string {
	switch s {
	case BatchComplete:
		return "complete"
	case BatchPartial:
		return "partial"
	case BatchConflict:
		return "conflict"
	case BatchRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Response is the aggregated batch result. Outcomes preserve submission
// order and always match the submitted entry count.
type Response struct {
	BatchID  string         `json:"batch_id"`
	Status   BatchStatus    `json:"status"`
	Outcomes []EntryOutcome `json:"outcomes"`

	// Advisory is the optional batch-level message, set when any entry
	// raised a response-level warning.
	Advisory string `json:"advisory,omitempty"`
}

// failureFrom maps a pipeline error to the outcome failure code.
func failureFrom(err error) *Failure {
	code := FailureStorage
	switch {
	case stderrors.Is(err, errors.ErrValidationFailure):
		code = FailureValidation
	case stderrors.Is(err, errors.ErrConflict):
		code = FailureConflict
	case stderrors.Is(err, errors.ErrPendingConflict):
		code = FailurePendingConflict
	case errors.IsInvalid(err):
		code = FailureProcessing
	}
	return &Failure{Code: code, Message: err.Error()}
}

// batchStatus aggregates the per-entry outcomes.
func batchStatus(outcomes []EntryOutcome) BatchStatus {
	succeeded, rejected, conflicts := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.Status == EntrySucceeded:
			succeeded++
		case o.Failure != nil && (o.Failure.Code == FailureValidation || o.Failure.Code == FailureProcessing):
			rejected++
		case o.Failure != nil && o.Failure.Code == FailureConflict:
			conflicts++
		}
	}

	switch {
	case succeeded == len(outcomes):
		return BatchComplete
	case succeeded == 0 && rejected == len(outcomes):
		return BatchRejected
	case succeeded == 0 && len(outcomes) == 1 && conflicts == 1:
		return BatchConflict
	default:
		return BatchPartial
	}
}
