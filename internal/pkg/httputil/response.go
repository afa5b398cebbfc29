package httputil

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

// ErrorBody is the standard error envelope for all API errors:
// {"error": {"code": "...", "message": "...", "details": ...}}.
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo carries the machine code and human message of an API error.
type ErrorInfo struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically. If encoding fails,
// a 500 error is written instead.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[httputil] JSON encode error: %v", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 response. Used by the ingest endpoints, which
// defer all durability to the event worker.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes the structured error envelope for an application error.
// Unknown errors are logged and returned as a generic 500 (never leak
// internals to webhook producers).
func Error(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		JSON(w, apperr.HTTPStatus(ae.Code), ErrorBody{Error: ErrorInfo{
			Code:    ae.Code,
			Message: ae.Message,
			Details: ae.Details,
		}})
		return
	}
	log.Printf("[httputil] internal error: %v", err)
	JSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorInfo{
		Code:    apperr.CodeTransientIO,
		Message: "internal server error",
	}})
}

// Validation writes a 400 validation error with per-field problems.
func Validation(w http.ResponseWriter, problems []string) {
	Error(w, apperr.New(apperr.CodeValidation, "request validation failed").WithDetails(problems))
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Error(w, apperr.New(apperr.CodeValidation, "invalid JSON: %s", err.Error()))
		return false
	}
	return true
}
