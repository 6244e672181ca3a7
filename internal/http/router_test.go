package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/command-my-startup/internal/ai"
	"github.com/pribylovaa/command-my-startup/internal/cache"
	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/http/handlers"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/metrics"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit/memory"
	"github.com/pribylovaa/command-my-startup/internal/service"
	"github.com/pribylovaa/command-my-startup/internal/storage"
	"github.com/pribylovaa/command-my-startup/internal/token"
	"github.com/pribylovaa/command-my-startup/mocks"
)

type env struct {
	handler http.Handler
	users   *mocks.MockUserStorage
	keys    *mocks.MockAPIKeyStorage
	history *mocks.MockHistoryStorage
	codec   *token.Codec
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctrl := gomock.NewController(t)

	codec, err := token.New(config.AuthConfig{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Audience:        "command-my-startup",
	})
	require.NoError(t, err)

	e := &env{
		users:   mocks.NewMockUserStorage(ctrl),
		keys:    mocks.NewMockAPIKeyStorage(ctrl),
		history: mocks.NewMockHistoryStorage(ctrl),
		codec:   codec,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	svc := service.New(service.Deps{
		Users:       e.users,
		Keys:        e.keys,
		History:     e.history,
		Revocations: cache.NewMemoryRevocations(),
		Codec:       codec,
		AI:          ai.NewRouter(ctx, config.AIConfig{}),
	})

	resolver := identity.New(e.users, e.keys, []identity.Verifier{identity.NewLocalVerifier(codec)})
	policy := ratelimit.NewPolicy(config.RateLimitConfig{
		Window:                  time.Minute,
		AuthLimit:               3,
		CommandsLimit:           10,
		GeneralLimit:            10,
		AuthenticatedMultiplier: 2,
		APIKeyMultiplier:        3,
	})

	e.handler = NewRouter(svc, Options{
		Logger:      logger,
		Timeout:     5 * time.Second,
		Resolver:    resolver,
		Limiter:     ratelimit.NewLimiter(memory.New()),
		Policy:      policy,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		CORSOrigins: []string{"http://localhost:3000"},
		Cookies:     handlers.CookieOptions{Secure: true},
	})

	return e
}

func (e *env) do(t *testing.T, method, target string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, rdr)
	req.RemoteAddr = "192.0.2.10:4000"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *env) bearer(t *testing.T, user *models.User) map[string]string {
	t.Helper()
	tok, err := e.codec.Issue(user.ID.String(), token.KindAccess, time.Minute)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

type errBody struct {
	Error struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func TestRouter_RegisterSetsCookiesAndReturnsTokens(t *testing.T) {
	e := newEnv(t)

	e.users.EXPECT().UserByEmail(gomock.Any(), "new@example.com").Return(nil, storage.ErrNotFound)
	e.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)

	rr := e.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "new@example.com", "password": "abcdefg1", "full_name": "New",
	}, nil)

	require.Equal(t, http.StatusCreated, rr.Code)

	body := decode[map[string]any](t, rr)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])
	require.Equal(t, "bearer", body["token_type"])

	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "access_token")
	require.Contains(t, cookies, "refresh_token")
	require.True(t, cookies["access_token"].HttpOnly)
	require.True(t, cookies["access_token"].Secure)
	require.Equal(t, body["access_token"], cookies["access_token"].Value)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
}

func TestRouter_RejectsUnknownFields(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@b.io", "password": "abcdefg1", "role": "admin",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_argument", decode[errBody](t, rr).Error.Code)
}

func TestRouter_LoginWrongPassword(t *testing.T) {
	e := newEnv(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("abcdefg1"), bcrypt.MinCost)
	require.NoError(t, err)
	e.users.EXPECT().UserByEmail(gomock.Any(), "a@b.io").
		Return(&models.User{ID: uuid.New(), Email: "a@b.io", PasswordHash: string(hash)}, nil)

	rr := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.io", "password": "wrong-pass1"}, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_credentials", decode[errBody](t, rr).Error.Code)
	require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
}

func TestRouter_ProtectedRoutes(t *testing.T) {
	e := newEnv(t)
	user := &models.User{ID: uuid.New(), Email: "me@example.com", FullName: "Me"}

	// без учётных данных: 401, но квота всё равно посчитана
	rr := e.do(t, http.MethodGet, "/api/profile", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	require.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, decode[errBody](t, rr).Error.RequestID)

	// с bearer-токеном: 200 и удвоенный лимит аутентифицированного клиента
	e.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil).Times(2)

	rr = e.do(t, http.MethodGet, "/api/profile", nil, e.bearer(t, user))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "20", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "me@example.com", decode[map[string]any](t, rr)["email"])
}

func TestRouter_RefreshTokenIsNotAccepted(t *testing.T) {
	e := newEnv(t)
	user := &models.User{ID: uuid.New()}

	pair, err := e.codec.IssuePair(user.ID.String())
	require.NoError(t, err)

	rr := e.do(t, http.MethodGet, "/api/history", nil, map[string]string{"Authorization": "Bearer " + pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_MeAnonymousAndAuthenticated(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, decode[map[string]any](t, rr)["authenticated"])

	user := &models.User{ID: uuid.New(), Email: "me@example.com"}
	e.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	rr = e.do(t, http.MethodGet, "/api/auth/me", nil, e.bearer(t, user))
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode[map[string]any](t, rr)
	require.Equal(t, true, body["authenticated"])
	require.Equal(t, "token", body["auth_method"])
}

func TestRouter_CommandWithAPIKeyRecordsProvenance(t *testing.T) {
	e := newEnv(t)
	user := &models.User{ID: uuid.New(), Email: "k@example.com"}

	gen, err := identity.GenerateAPIKey()
	require.NoError(t, err)
	key := &models.APIKey{ID: uuid.New(), UserID: user.ID, KeyHash: identity.HashAPIKey(gen.Plain)}

	touched := make(chan struct{})
	e.keys.EXPECT().APIKeyByHash(gomock.Any(), key.KeyHash).Return(key, nil)
	e.keys.EXPECT().TouchAPIKey(gomock.Any(), key.ID, gomock.Any()).DoAndReturn(
		func(context.Context, uuid.UUID, time.Time) error { close(touched); return nil })
	e.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	e.history.EXPECT().SaveHistory(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, h *models.HistoryEntry) error {
		require.Equal(t, models.AuthMethodAPIKey, h.AuthMethod)
		require.NotNil(t, h.APIKeyID)
		require.Equal(t, key.ID, *h.APIKeyID)
		return nil
	})

	rr := e.do(t, http.MethodPost, "/api/commands", map[string]any{
		"prompt": "write a tagline", "model": "gpt-4o",
	}, map[string]string{"X-API-Key": gen.Plain})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "30", rr.Header().Get("X-RateLimit-Limit"))

	body := decode[map[string]any](t, rr)
	require.Contains(t, body["content"], "write a tagline")
	require.Equal(t, "gpt-4o", body["model"])
	require.NotEmpty(t, body["id"])

	select {
	case <-touched:
	case <-time.After(2 * time.Second):
		t.Fatal("api key was not touched")
	}
}

func TestRouter_CommandUnsupportedModel(t *testing.T) {
	e := newEnv(t)
	user := &models.User{ID: uuid.New()}
	e.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	rr := e.do(t, http.MethodPost, "/api/commands", map[string]any{"prompt": "hi", "model": "llama-3"}, e.bearer(t, user))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "unsupported_model", decode[errBody](t, rr).Error.Code)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	e := newEnv(t)
	e.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).Times(3)

	for i := 0; i < 3; i++ {
		rr := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "x@b.io", "password": "abcdefg1"}, nil)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}

	rr := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "x@b.io", "password": "abcdefg1"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.Equal(t, "rate_limited", decode[errBody](t, rr).Error.Code)

	// другой класс маршрутов не затронут
	rr = e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code, "/api/auth/me shares the auth class")
	rr = e.do(t, http.MethodGet, "/api/history", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_HistoryBadIDAndNotFound(t *testing.T) {
	e := newEnv(t)
	user := &models.User{ID: uuid.New()}
	e.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil).Times(2)

	rr := e.do(t, http.MethodDelete, "/api/history/not-a-uuid", nil, e.bearer(t, user))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	other := uuid.New()
	e.history.EXPECT().HistoryByID(gomock.Any(), user.ID, other).Return(nil, storage.ErrNotFound)

	rr = e.do(t, http.MethodGet, "/api/history/"+other.String(), nil, e.bearer(t, user))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_UnknownRouteAndMethod(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decode[errBody](t, rr).Error.Code)

	rr = e.do(t, http.MethodGet, "/api/auth/login", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouter_LogoutViaCookieClearsCookies(t *testing.T) {
	e := newEnv(t)

	pair, err := e.codec.IssuePair(uuid.NewString())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: identity.RefreshCookie, Value: pair.RefreshToken})
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	for _, c := range rr.Result().Cookies() {
		require.Equal(t, -1, c.MaxAge, c.Name)
	}

	// тот же refresh-токен больше не обменивается
	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: identity.RefreshCookie, Value: pair.RefreshToken})
	rr = httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_token", decode[errBody](t, rr).Error.Code)
}

func TestRouter_RefreshRejectionsAreIndistinguishable(t *testing.T) {
	e := newEnv(t)

	pair, err := e.codec.IssuePair(uuid.NewString())
	require.NoError(t, err)

	hdr := map[string]string{"X-Request-Id": "rid-refresh"}

	rr := e.do(t, http.MethodPost, "/api/auth/logout", map[string]string{"refresh_token": pair.RefreshToken}, hdr)
	require.Equal(t, http.StatusOK, rr.Code)

	revoked := e.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, hdr)
	garbage := e.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "not-a-jwt"}, hdr)

	require.Equal(t, http.StatusUnauthorized, revoked.Code)
	require.Equal(t, http.StatusUnauthorized, garbage.Code)
	require.JSONEq(t, garbage.Body.String(), revoked.Body.String())
	require.NotContains(t, revoked.Body.String(), "revoked")
	require.NotContains(t, revoked.Body.String(), "expired")
}
