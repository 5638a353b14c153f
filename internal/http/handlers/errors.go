// Package handlers defines HTTP-layer error codes used across all API
// endpoints. These constants give clients a stable, machine-readable error
// taxonomy that supplements human-readable messages; handlers select the
// most specific matching code and pass it to fail() along with the HTTP
// status and message.
package handlers

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"

	// Domain-specific:
	ErrCodeInvalidWindow    = "invalid_window"
	ErrCodeInvalidKind      = "invalid_kind"
	ErrCodeMergeFailed      = "merge_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
