package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/command-my-startup/internal/ai"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
	"github.com/pribylovaa/command-my-startup/internal/service"
)

func TestToHTTP_DomainMapping(t *testing.T) {
	tcs := []struct {
		name       string
		in         error
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", fmt.Errorf("%w: %w", identity.ErrUnauthenticated, identity.ErrNoCredential), http.StatusUnauthorized, "unauthenticated"},
		{"invalid_credentials", fmt.Errorf("service.auth.Login: %w", service.ErrInvalidCredentials), http.StatusUnauthorized, "invalid_credentials"},
		{"invalid_token", service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{"token_revoked", service.ErrTokenRevoked, http.StatusUnauthorized, "invalid_token"},
		{"email_taken", service.ErrEmailTaken, http.StatusConflict, "email_taken"},
		{"invalid_email", service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
		{"weak_password", service.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
		{"empty_password", service.ErrEmptyPassword, http.StatusBadRequest, "invalid_password"},
		{"quota", service.ErrQuotaExceeded, http.StatusBadRequest, "quota_exceeded"},
		{"unsupported_model", fmt.Errorf("%w: %w", service.ErrInvalidArgument, ai.ErrUnsupportedModel), http.StatusBadRequest, "unsupported_model"},
		{"invalid_argument", fmt.Errorf("op: %w: prompt is required", service.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{"bad_request", ErrBadRequest, http.StatusBadRequest, "invalid_argument"},
		{"not_found", service.ErrNotFound, http.StatusNotFound, "not_found"},
		{"disabled", service.ErrFeatureDisabled, http.StatusServiceUnavailable, "unavailable"},
		{"provider", fmt.Errorf("%w: status 500", ai.ErrProvider), http.StatusBadGateway, "provider_error"},
		{"canceled", context.Canceled, StatusClientClosedRequest, "canceled"},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "deadline_exceeded"},
		{"rate_limited", &ratelimit.RateLimitedError{Decision: ratelimit.Decision{Limit: 5, RetryAfter: 30 * time.Second}}, http.StatusTooManyRequests, "rate_limited"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			gotStatus, resp := ToHTTP(tc.in)
			require.Equal(t, tc.wantStatus, gotStatus)
			require.Equal(t, tc.wantCode, resp.Error.Code)
			require.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestToHTTP_DoesNotLeakDetails(t *testing.T) {
	_, resp := ToHTTP(fmt.Errorf("service.commands.ExecuteCommand: %w: prompt is too long", service.ErrInvalidArgument))
	require.Equal(t, "invalid argument", resp.Error.Message)

	_, resp = ToHTTP(fmt.Errorf("postgres: password authentication failed for user admin"))
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestToHTTP_NilError_Returns500Internal(t *testing.T) {
	gotStatus, resp := ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, "internal", resp.Error.Code)
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestWriteError_EnvelopeAndHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.Header.Set("X-Request-Id", "rid-1")
	w := httptest.NewRecorder()

	WriteError(w, r, identity.ErrUnauthenticated)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "unauthenticated", resp.Error.Code)
	require.Equal(t, "rid-1", resp.Error.RequestID)
}

func TestWriteError_RateLimitedSetsRetryAfter(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	w := httptest.NewRecorder()

	reset := time.Unix(1_700_000_060, 0)
	WriteError(w, r, &ratelimit.RateLimitedError{Decision: ratelimit.Decision{
		Allowed:    false,
		Limit:      20,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: 42 * time.Second,
	}})

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "42", w.Header().Get("Retry-After"))
	require.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "1700000060", w.Header().Get("X-RateLimit-Reset"))
	require.Empty(t, w.Header().Get("WWW-Authenticate"))
}
