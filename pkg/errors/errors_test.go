package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := NewValidationError("room id required")
	assert.Equal(t, "INVALID_INPUT: room id required", err.Error())

	cause := errors.New("connection refused")
	wrapped := NewStorageError(cause)
	assert.Contains(t, wrapped.Error(), "STORAGE_ERROR")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial timeout")
	err := NewStorageError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestConstructorsMapCodeAndStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"authentication", NewAuthenticationError("bad token"), ErrCodeUnauthenticated, http.StatusUnauthorized},
		{"authorization", NewAuthorizationError("not a member"), ErrCodeForbidden, http.StatusForbidden},
		{"not found", NewNotFoundError("call"), ErrCodeNotFound, http.StatusNotFound},
		{"validation", NewValidationError("empty payload"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
		})
	}
}

func TestNotFoundNamesTheResource(t *testing.T) {
	err := NewNotFoundError("call")
	assert.Equal(t, "call not found", err.Message)
}

func TestWithContextAccumulates(t *testing.T) {
	err := NewValidationError("bad field").
		WithContext("field", "roomId").
		WithContext("length", 300)

	assert.Equal(t, "roomId", err.Context["field"])
	assert.Equal(t, 300, err.Context["length"])
}

func TestAppErrorDetection(t *testing.T) {
	appErr := NewInternalError("boom")
	plain := errors.New("plain")

	assert.True(t, IsAppError(appErr))
	assert.False(t, IsAppError(plain))

	require.Equal(t, appErr, GetAppError(appErr))
	assert.Nil(t, GetAppError(plain))
	assert.Nil(t, GetAppError(nil))
}
