// Package apperrors defines the error-kind taxonomy used across the
// ingest/analysis/notification pipeline. Kinds are a fixed vocabulary
// (Code), not a type hierarchy, so callers can branch on a code and the
// HTTP/retry mapping lives in one place.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error kind.
type Code string

const (
	// SignatureInvalid: webhook HMAC verification failed. 401, no retry.
	SignatureInvalid Code = "SIGNATURE_INVALID"
	// CredentialDenied: the platform rejected a token mint (4xx). Non-retryable.
	CredentialDenied Code = "CREDENTIAL_DENIED"
	// UpstreamTransient: 5xx or network error from an upstream collaborator. Retryable.
	UpstreamTransient Code = "UPSTREAM_TRANSIENT"
	// UpstreamPermanent: 4xx (not auth) from an upstream collaborator. Non-retryable.
	UpstreamPermanent Code = "UPSTREAM_PERMANENT"
	// ModelFailure: generative-model timeout, schema violation, or empty TL;DR.
	ModelFailure Code = "MODEL_FAILURE"
	// NotFound: the referenced PR (or other entity) no longer exists.
	NotFound Code = "NOT_FOUND"
	// ConfigMissing: a required environment variable is absent. Fatal at startup.
	ConfigMissing Code = "CONFIG_MISSING"
	// ChatDeliveryFailure: the chat webhook POST failed. Logged, never propagated.
	ChatDeliveryFailure Code = "CHAT_DELIVERY_FAILURE"
	// Internal: anything else.
	Internal Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	SignatureInvalid:    http.StatusUnauthorized,
	CredentialDenied:    http.StatusForbidden,
	UpstreamTransient:   http.StatusBadGateway,
	UpstreamPermanent:   http.StatusBadGateway,
	ModelFailure:        http.StatusInternalServerError,
	NotFound:            http.StatusNotFound,
	ConfigMissing:       http.StatusInternalServerError,
	ChatDeliveryFailure: http.StatusInternalServerError,
	Internal:            http.StatusInternalServerError,
}

var retryableByCode = map[Code]bool{
	UpstreamTransient: true,
}

// AppError is an error tagged with a Code. Wrap the underlying cause in Err
// when there is one; Error() includes it.
type AppError struct {
	Code Code
	Msg  string
	Err  error
}

// New creates an AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Msg: msg}
}

// Wrap creates an AppError with the given code, wrapping an underlying error.
func Wrap(code Code, err error) *AppError {
	return &AppError{Code: code, Msg: err.Error(), Err: err}
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code a webhook handler should surface
// for this error. Business-logic errors inside workers ignore this; it
// exists for the receiver's 401/500 split.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a job failing with this error should be
// retried by the queue rather than failed permanently.
func (e *AppError) Retryable() bool {
	return retryableByCode[e.Code]
}

// CodeOf extracts the Code from err if it is (or wraps) an *AppError,
// otherwise returns Internal.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// IsRetryable reports whether err, if it is an *AppError, is retryable.
// Errors that are not AppErrors are treated as retryable — an
// unclassified failure is assumed transient rather than assumed fatal.
func IsRetryable(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}
