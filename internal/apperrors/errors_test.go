package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusCodes(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"validation", NewValidationError("bad", cause), ErrorTypeValidation, http.StatusBadRequest},
		{"decode", NewDecodeError("bad image", cause), ErrorTypeDecode, http.StatusBadRequest},
		{"network", NewNetworkError("down", cause), ErrorTypeNetwork, http.StatusBadGateway},
		{"timeout", NewTimeoutError("slow", cause), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"too large", NewPayloadTooLargeError("big", nil), ErrorTypeTooLarge, http.StatusRequestEntityTooLarge},
		{"processing", NewProcessingError("failed", cause), ErrorTypeProcessing, http.StatusUnprocessableEntity},
		{"not found", NewNotFoundError("missing", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"internal", NewInternalError("oops", cause), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.status, GetStatusCode(tt.err))
			assert.True(t, IsType(tt.err, tt.typ))
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewNetworkError("failed to fetch image", cause)

	assert.Equal(t, "network_error: failed to fetch image (caused by: dial tcp: refused)", err.Error())
	assert.ErrorIs(t, err, cause)

	plain := NewNotFoundError("no such file", nil)
	assert.Equal(t, "not_found: no such file", plain.Error())
}

func TestWrappedAppError(t *testing.T) {
	base := NewTimeoutError("fetch timed out", nil)
	wrapped := fmt.Errorf("detect_url: %w", base)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, appErr)
	assert.Equal(t, http.StatusGatewayTimeout, GetStatusCode(wrapped))
	assert.Equal(t, ErrorTypeTimeout, GetType(wrapped))
}

func TestUnclassifiedError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(err))
	assert.Equal(t, ErrorTypeInternal, GetType(err))
	assert.False(t, IsType(err, ErrorTypeValidation))
}

func TestWithDetails(t *testing.T) {
	orig := NewValidationError("bad input", nil)
	detailed := orig.WithDetails("field image is empty")

	assert.Empty(t, orig.Details)
	assert.Equal(t, "field image is empty", detailed.Details)
	assert.Equal(t, orig.Type, detailed.Type)
}
