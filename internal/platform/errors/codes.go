// Package errors provides structured error handling for the custody ledger.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Tap errors
	CodeTapInvalidInput Code = "TAP_INVALID_INPUT"

	// Asset errors
	CodeAssetNotFound       Code = "ASSET_NOT_FOUND"
	CodeAssetStatusConflict Code = "ASSET_STATUS_CONFLICT"
	CodeAssetContention     Code = "ASSET_CONTENTION"
	CodeAssetStateCorrupt   Code = "ASSET_STATE_CORRUPT"

	// Storage errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - caller supplied invalid input
	case CodeTapInvalidInput:
		return http.StatusBadRequest

	// Not found - unknown asset identity
	case CodeAssetNotFound:
		return http.StatusNotFound

	// Conflict - asset status disallows tap-driven transitions
	case CodeAssetStatusConflict:
		return http.StatusConflict

	// Too many requests - lost the optimistic race beyond the retry
	// bound; the caller may resubmit
	case CodeAssetContention:
		return http.StatusTooManyRequests

	// Service unavailable - durability layer unreachable
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may usefully resubmit the same request.
func (c Code) Retryable() bool {
	return c == CodeAssetContention || c == CodeStorageUnavailable
}
