// Package http serves the read-only JSON API over the budget ledger.
//
// This file implements the builder used by every handler to write JSON
// bodies and the mapping from ledger errors to status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"famfin/internal/core"
)

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A body that fails to encode turns the
// response into a 500.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"response encoding failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n"))
}

// ErrorCode is the machine-readable error class in error bodies.
type ErrorCode string

const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeValidation       ErrorCode = "validation"
	CodeNotFound         ErrorCode = "not_found"
	CodeConflict         ErrorCode = "conflict"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeMethodNotAllowed ErrorCode = "method_not_allowed"
	CodeInternal         ErrorCode = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, code ErrorCode, message string) *ResponseBuilder {
	return NewResponse().
		Status(statusCode).
		JSON(errorBody{Error: errorDetail{Code: code, Message: message}})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, message)
}

// ErrorFor maps a ledger error to its response. Storage and unexpected
// failures hide the underlying message.
func ErrorFor(err error) *ResponseBuilder {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		return NewResponse().
			Status(http.StatusUnprocessableEntity).
			JSON(errorBody{Error: errorDetail{Code: CodeValidation, Message: ve.Reason, Field: ve.Field}})
	case errors.Is(err, core.ErrValidation):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeValidation, err.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrConflict):
		return ErrorResponse(http.StatusConflict, CodeConflict, err.Error())
	}
	return InternalServerError("internal error")
}
