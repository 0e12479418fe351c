// Package validate implements request validation (spec §4.7) and the stable
// error-code taxonomy (spec §7) that every layer above the engines maps onto.
package validate

import "net/http"

// Code is one of the stable, public machine error codes.
type Code string

const (
	CodeInvalidParameter       Code = "INVALID_PARAMETER"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeTickerNotFound         Code = "TICKER_NOT_FOUND"
	CodeClientNotFound         Code = "CLIENT_NOT_FOUND"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeExternalAPIUnavailable Code = "EXTERNAL_API_UNAVAILABLE"
	CodeCalculationError       Code = "CALCULATION_ERROR"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a Code to its wire status, per spec §7's taxonomy table.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidParameter:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTickerNotFound, CodeClientNotFound:
		return http.StatusNotFound
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeExternalAPIUnavailable:
		return http.StatusServiceUnavailable
	case CodeCalculationError, CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the sum-typed result every layer above the engines returns instead
// of raising — a permanent, surfaced-as-is failure carrying a stable code, a
// human message, and optional structured details (e.g. the offending field).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// New constructs an Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithField attaches a details.field entry, the shape the API uses for
// INVALID_PARAMETER responses (spec §8 scenario S4).
func WithField(code Code, message, field string) *Error {
	return &Error{Code: code, Message: message, Details: map[string]any{"field": field}}
}
