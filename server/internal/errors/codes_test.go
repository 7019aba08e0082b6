package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAIError_ErrorAndUnwrap(t *testing.T) {
	err := LLMUnavailable("model call failed", context.DeadlineExceeded)
	assert.Equal(t, "[LLM_UNAVAILABLE] model call failed: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "[INVALID_ARGUMENT] history is required", InvalidArgument("history is required").Error())
}

func TestIsCode_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Timeout("slow", nil))
	assert.True(t, IsCode(wrapped, ErrCodeTimeout))
	assert.False(t, IsCode(wrapped, ErrCodeInternal))
	assert.Equal(t, ErrCodeTimeout, GetCodeFromError(wrapped, ErrCodeInternal))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(fmt.Errorf("plain"), ErrCodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidArgument, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{ErrCodeLLMUnavailable, http.StatusInternalServerError},
		{ErrCodeTimeout, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.code), string(tt.code))
	}
}

func TestWithContext(t *testing.T) {
	err := Internal("store failed", nil).WithContext("identity", "a@example.com")
	assert.Equal(t, "a@example.com", err.Context["identity"])
}
