package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"validation", NewValidationError("bad limit"), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("result"), ErrorTypeNotFound, http.StatusNotFound},
		{"internal", NewInternalError("boom"), ErrorTypeInternal, http.StatusInternalServerError},
		{"timeout", NewTimeoutError("slow"), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"rate limit", NewRateLimitError("slow down"), ErrorTypeRateLimit, http.StatusTooManyRequests},
		{"service down", NewServiceDownError("result store"), ErrorTypeServiceDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}

	assert.Equal(t, "result not found", NewNotFoundError("result").Message)
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("redis: connection refused")
	err := WrapInternalError(cause, "failed to list results")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: redis: connection refused")
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("result").WithCode("RESULT_NOT_FOUND")
	wrapped := fmt.Errorf("lookup: %w", appErr)

	got, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Same(t, appErr, got)
	assert.True(t, IsAppError(wrapped))

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsAppError(nil))
}

func TestWithDetails(t *testing.T) {
	err := NewValidationError("limit out of range").WithDetails(map[string]interface{}{"max": 1000})
	assert.Equal(t, 1000, err.Details["max"])
}
