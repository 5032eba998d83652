package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_StandardVariables(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"not found", ErrNotFound, ErrorNotFound},
		{"frame not found", ErrFrameNotFound, ErrorNotFound},
		{"conflict", ErrConflict, ErrorConflict},
		{"pending conflict", ErrPendingConflict, ErrorConflict},
		{"not acceptable", ErrNotAcceptable, ErrorInvalid},
		{"bad request", ErrBadRequest, ErrorInvalid},
		{"validation failure", ErrValidationFailure, ErrorInvalid},
		{"configuration", ErrConfiguration, ErrorFatal},
		{"object not found", ErrObjectNotFound, ErrorFatal},
		{"context canceled", context.Canceled, ErrorTransient},
		{"unknown", stderrors.New("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_PreservedThroughWrapping(t *testing.T) {
	wrapped := Wrap(ErrConflict, "IndexStore", "Commit", "create row")
	assert.Equal(t, ErrorConflict, Classify(wrapped))
	assert.True(t, stderrors.Is(wrapped, ErrConflict))

	doubly := fmt.Errorf("outer: %w", wrapped)
	assert.Equal(t, ErrorConflict, Classify(doubly))
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrNotFound, "RetrieveService", "Retrieve", "metadata lookup")
	require.Error(t, err)
	assert.Equal(t, "RetrieveService.Retrieve: metadata lookup failed: instance not found", err.Error())
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "C", "M", "a"))
	assert.NoError(t, WrapInvalid(nil, "C", "M", "a"))
	assert.NoError(t, WrapFatal(nil, "C", "M", "a"))
}

func TestWrapInvalid_OverridesClass(t *testing.T) {
	// An unknown error wrapped as invalid must classify as invalid.
	err := WrapInvalid(stderrors.New("bad uid"), "Validator", "Validate", "uid format")
	assert.True(t, IsInvalid(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Validator", ce.Component)
	assert.Equal(t, "Validate", ce.Operation)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{ErrFrameNotFound, http.StatusNotFound},
		{ErrNotAcceptable, http.StatusNotAcceptable},
		{ErrUnsupportedConversion, http.StatusNotAcceptable},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrConflict, http.StatusConflict},
		{ErrPendingConflict, http.StatusConflict},
		{ErrObjectNotFound, http.StatusInternalServerError},
		{ErrConfiguration, http.StatusInternalServerError},
		{Wrap(ErrNotFound, "C", "M", "a"), http.StatusNotFound},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "error: %v", tt.err)
	}
}
