package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_FormatAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError(ErrCodeUpstreamForecast, "weather fetch failed", cause)

	assert.Equal(t, "upstream_forecast_unavailable: weather fetch failed", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("cell 38.7,-9.1: %w", err)
	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.Equal(t, ErrCodeUpstreamForecast, appErr.Code)
}

func TestAppError_WithDetailsCopies(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeValidationInvalidMode, "bad mode", nil, map[string]any{"param": "mode"})
	next := orig.WithDetails(map[string]any{"value": "kite", "param": "modo"})

	assert.Equal(t, map[string]any{"param": "mode"}, orig.Details)
	assert.Equal(t, map[string]any{"param": "modo", "value": "kite"}, next.Details)
	assert.Equal(t, orig.Code, next.Code)

	bare := NewAppError(ErrCodeInternalUnexpected, "x", nil).WithDetails(map[string]any{"k": 1})
	assert.Equal(t, map[string]any{"k": 1}, bare.Details)
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidLat, http.StatusBadRequest},
		{ErrCodeValidationInvalidMode, http.StatusBadRequest},
		{ErrCodeValidationHorizon, http.StatusBadRequest},
		{ErrCodeNotFoundRoute, http.StatusNotFound},
		{ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrCodeInternalStorage, http.StatusInternalServerError},
		{ErrCodeInternalSnapshotCorrupt, http.StatusInternalServerError},
		{ErrCodeUpstreamForecast, http.StatusBadGateway},
		{ErrCodeUpstreamInvalidResponse, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusServiceUnavailable},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
			assert.Equal(t, tt.want, NewAppError(tt.code, "m", nil).HTTPStatus())
		})
	}
}
