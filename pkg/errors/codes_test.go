package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodePaperNotFound, http.StatusNotFound},
		{ErrCodePaperRefInvalid, http.StatusBadRequest},
		{ErrCodeBatchTooLarge, http.StatusBadRequest},
		{ErrCodeAliasConflict, http.StatusConflict},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable},
		{ErrCodeTransport, http.StatusBadGateway},
		{ErrCodeTimeout, http.StatusGatewayTimeout},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrorCode("NO_SUCH_CODE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatusForCode(tt.code), "code %s", tt.code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "paper not found", DefaultMessageForCode(ErrCodePaperNotFound))
	assert.Equal(t, "upstream rate limit exceeded", DefaultMessageForCode(ErrCodeRateLimited))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("NO_SUCH_CODE")))
}

func TestIsClientServerError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeBadRequest))
	assert.True(t, IsClientError(ErrCodePaperRefInvalid))
	assert.False(t, IsClientError(ErrCodeUpstreamUnavailable))

	assert.True(t, IsServerError(ErrCodeInternal))
	assert.True(t, IsServerError(ErrCodeTransport))
	assert.False(t, IsServerError(ErrCodeBatchTooLarge))
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeRateLimited, ErrCodeTimeout, ErrCodeUpstreamUnavailable, ErrCodeTransport}
	for _, code := range retryable {
		assert.True(t, IsRetryable(code), "code %s", code)
	}
	terminal := []ErrorCode{ErrCodeNotFound, ErrCodeBadRequest, ErrCodeUnauthorized, ErrCodeInternal, ErrCodeAliasConflict}
	for _, code := range terminal {
		assert.False(t, IsRetryable(code), "code %s", code)
	}
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "PAPER", ModuleForCode(ErrCodePaperNotFound))
	assert.Equal(t, "ALIAS", ModuleForCode(ErrCodeAliasConflict))
	assert.Equal(t, "UPSTREAM", ModuleForCode(ErrCodeRateLimited))
	assert.Equal(t, "INGEST", ModuleForCode(ErrCodeIngestFailed))
}

func TestEveryCodeHasStatusAndMessage(t *testing.T) {
	for code := range ErrorCodeHTTPStatus {
		_, ok := ErrorCodeMessage[code]
		assert.True(t, ok, "code %s has an HTTP status but no default message", code)
	}
	for code := range ErrorCodeMessage {
		_, ok := ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "code %s has a default message but no HTTP status", code)
	}
}
