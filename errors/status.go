package errors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error from the ingestion or retrieval pipelines to the
// caller-facing HTTP status code.
//
// The mapping follows the DICOMweb response surface: 404 for a missing
// instance or frame, 406 for negotiation failures (including size limits and
// multi-instance transcode requests), 400 for malformed input, 409 for
// duplicate instances and in-flight writers, and 500 for data-integrity or
// deployment defects.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFrameNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAcceptable), errors.Is(err, ErrUnsupportedConversion):
		return http.StatusNotAcceptable
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidationFailure):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrPendingConflict):
		return http.StatusConflict
	}

	// ErrObjectNotFound and ErrConfiguration both indicate server-side
	// defects, not request defects.
	return http.StatusInternalServerError
}
