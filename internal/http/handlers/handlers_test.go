package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHistoryFilter(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/history?limit=20&offset=40&start_date=2026-01-01&end_date=2026-01-31", nil)

	f, err := historyFilter(r)
	require.NoError(t, err)
	require.Equal(t, 20, f.Limit)
	require.Equal(t, 40, f.Offset)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *f.From)
	// дата без времени в end_date включает весь день
	require.Equal(t, time.Date(2026, 1, 31, 23, 59, 59, 999999999, time.UTC), *f.To)

	r = httptest.NewRequest(http.MethodGet, "/api/history?start_date=2026-01-01T10:00:00%2B03:00", nil)
	f, err = historyFilter(r)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC), *f.From)
	require.Nil(t, f.To)

	for _, q := range []string{"limit=ten", "offset=x", "start_date=yesterday", "end_date=31.01.2026"} {
		_, err := historyFilter(httptest.NewRequest(http.MethodGet, "/api/history?"+q, nil))
		require.Error(t, err, q)
	}
}

func TestDecodeStrict(t *testing.T) {
	var in loginRequest

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.io","password":"x"}`))
	require.NoError(t, decodeStrict(httptest.NewRecorder(), r, &in))
	require.Equal(t, "a@b.io", in.Email)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.io"}{"email":"b@b.io"}`))
	require.Error(t, decodeStrict(httptest.NewRecorder(), r, &in))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.io","admin":true}`))
	require.Error(t, decodeStrict(httptest.NewRecorder(), r, &in))

	var opt refreshRequest
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, decodeOptional(httptest.NewRecorder(), r, &opt))
	require.Empty(t, opt.RefreshToken)
}

func TestCookie(t *testing.T) {
	h := New(nil, CookieOptions{Secure: true, Domain: "example.com"})

	c := h.cookie("access_token", "v", 30*time.Minute)
	require.Equal(t, 1800, c.MaxAge)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, "example.com", c.Domain)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)

	c = h.cookie("access_token", "", -1)
	require.Equal(t, -1, c.MaxAge)
}
