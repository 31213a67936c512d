package types

import (
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a machine-readable error category. Its prefix decides the
// HTTP status.
type ErrorCode string

const (
	ErrCodeValidationInvalidLat       ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon       ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationInvalidMode      ErrorCode = "validation_invalid_mode"
	ErrCodeValidationInvalidOrder     ErrorCode = "validation_invalid_order"
	ErrCodeValidationInvalidWaterType ErrorCode = "validation_invalid_water_type"
	ErrCodeValidationInvalidTime      ErrorCode = "validation_invalid_time"
	ErrCodeValidationInvalidNumber    ErrorCode = "validation_invalid_number"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationHorizon          ErrorCode = "validation_horizon_out_of_range"

	ErrCodeNotFoundRoute    ErrorCode = "not_found_route"
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalStorage         ErrorCode = "internal_storage_error"
	ErrCodeInternalSnapshotCorrupt ErrorCode = "internal_snapshot_corruption"
	ErrCodeUpstreamForecast        ErrorCode = "upstream_forecast_unavailable"
	ErrCodeUpstreamUnavailable     ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamInvalidResponse ErrorCode = "upstream_invalid_response"
)

var statusByPrefix = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"not_found_", http.StatusNotFound},
	{"method_not_allowed", http.StatusMethodNotAllowed},
	{string(ErrCodeUpstreamRateLimited), http.StatusServiceUnavailable},
	{"upstream_", http.StatusBadGateway},
}

// HTTPStatus maps the code to a status; unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	for _, m := range statusByPrefix {
		if strings.HasPrefix(string(c), m.prefix) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// AppError carries a code, a client-safe message and the wrapped cause.
// Only Code, Message and Details are ever shown to clients.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string { return string(e.Code) + ": " + e.Message }

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithDetails returns a copy with details merged over the existing ones.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	cp := *e
	cp.Details = merged
	return &cp
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
