package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "lead not found")))

	// Wrapped through fmt the code still surfaces.
	wrapped := fmt.Errorf("processing: %w", New(CodeValidation, "bad field"))
	assert.Equal(t, CodeValidation, CodeOf(wrapped))

	// Plain errors default to transient so they stay retryable.
	assert.Equal(t, CodeTransientIO, CodeOf(errors.New("connection reset")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeTransientIO, "timeout")))
	assert.True(t, Retryable(New(CodeConflict, "duplicate")))
	assert.True(t, Retryable(errors.New("unknown")))

	assert.False(t, Retryable(New(CodeValidation, "bad")))
	assert.False(t, Retryable(New(CodeDownstreamRejected, "422")))
	assert.False(t, Retryable(New(CodeRateLimitedRule, "capped")))
	assert.False(t, Retryable(New(CodeInvariantViolation, "broken")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodeTransientIO, cause, "moco call failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient_io")
	assert.Contains(t, err.Error(), "moco call failed")
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(CodeUnauthorized))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeConflict))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(CodeDownstreamRejected))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeTransientIO))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInvariantViolation))
}
