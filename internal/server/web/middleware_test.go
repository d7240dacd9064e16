package web

import (
	"errors"
	"net/http"
	"testing"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"authentication", internal_errors.NewAuthError("key not found"), http.StatusUnauthorized},
		{"expired key", internal_errors.NewExpirationError("key expired"), http.StatusUnauthorized},
		{"revoked key", internal_errors.NewRevokedError("key revoked", "compromised"), http.StatusUnauthorized},
		{"unknown model", internal_errors.NewNotFoundError("model is not supported"), http.StatusNotFound},
		{"rate limited", internal_errors.NewRateLimitError("too many requests"), http.StatusTooManyRequests},
		{"over budget", internal_errors.NewCostLimitError("cost limit exceeded"), http.StatusPaymentRequired},
		{"bad request", internal_errors.NewValidationError("messages are required"), http.StatusBadRequest},
		{"upstream timeout", internal_errors.NewTimeoutError("upstream did not answer", internal_errors.RequestTimeout), http.StatusGatewayTimeout},
		{"client hung up", internal_errors.NewCancelledError("request cancelled"), statusClientClosedRequest},
		{"provider down", internal_errors.NewProviderUnavailableError("overloaded"), http.StatusBadGateway},
		{"provider protocol", internal_errors.NewProviderProtocolError("bad payload"), http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, message := mapError(tc.err)
			assert.Equal(t, tc.want, code)
			assert.Equal(t, "[kubellm] "+tc.err.Error(), message)
		})
	}
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "authentication_error", errorType(http.StatusUnauthorized))
	assert.Equal(t, "rate_limit_error", errorType(http.StatusTooManyRequests))
	assert.Equal(t, "invalid_request_error", errorType(http.StatusBadRequest))
	assert.Equal(t, "kubellm_error", errorType(http.StatusBadGateway))
}
