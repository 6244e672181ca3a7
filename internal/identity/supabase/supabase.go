// supabase — внешние провайдеры для токенов Supabase Auth.
//
// JWKSProvider проверяет подпись локально по опубликованным ключам проекта,
// RemoteProvider спрашивает у Supabase текущего пользователя по токену.
// Оба реализуют identity.ExternalAuthProvider.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/identity"
)

var (
	// ErrInvalidToken — токен не прошёл проверку провайдером.
	ErrInvalidToken = errors.New("supabase: invalid token")
	// ErrUnavailable — провайдер или его JWKS недоступны.
	ErrUnavailable = errors.New("supabase: provider unavailable")
	// ErrNotConfigured — не задан адрес провайдера.
	ErrNotConfigured = errors.New("supabase: not configured")
)

// JWKSProvider проверяет токены по ключам из JWKS с кешированием.
type JWKSProvider struct {
	cfg   config.SupabaseConfig
	cache *jwk.Cache
}

// NewJWKSProvider регистрирует JWKS в кеше. ctx ограничивает жизнь фонового обновления.
func NewJWKSProvider(ctx context.Context, cfg config.SupabaseConfig) (*JWKSProvider, error) {
	const op = "supabase.NewJWKSProvider"

	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	cache := jwk.NewCache(ctx)
	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
	if err := cache.Register(
		cfg.JWKSURL,
		jwk.WithMinRefreshInterval(cfg.MinRefresh),
		jwk.WithHTTPClient(httpClient),
	); err != nil {
		return nil, fmt.Errorf("%s: register jwks: %w", op, err)
	}

	return &JWKSProvider{cfg: cfg, cache: cache}, nil
}

// Warmup загружает ключи заранее, чтобы первый запрос не ждал сеть.
func (p *JWKSProvider) Warmup(ctx context.Context) error {
	if _, err := p.cache.Refresh(ctx, p.cfg.JWKSURL); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

// Resolve проверяет подпись, issuer, audience и сроки токена.
func (p *JWKSProvider) Resolve(ctx context.Context, raw string) (*identity.ExternalUser, error) {
	keySet, err := p.cache.Get(ctx, p.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	tok, err := jwt.Parse([]byte(raw), jwt.WithKeySet(keySet), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	opts := []jwt.ValidateOption{jwt.WithAcceptableSkew(30 * time.Second)}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	u := &identity.ExternalUser{ID: tok.Subject()}
	if v, ok := tok.Get("email"); ok {
		if s, ok := v.(string); ok {
			u.Email = strings.ToLower(s)
		}
	}

	return u, nil
}

// RemoteProvider разрешает токен запросом GET {url}/auth/v1/user.
type RemoteProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewRemoteProvider создаёт провайдер; client == nil означает клиента с таймаутом из cfg.
func NewRemoteProvider(cfg config.SupabaseConfig, client *http.Client) (*RemoteProvider, error) {
	const op = "supabase.NewRemoteProvider"

	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &RemoteProvider{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		client:  client,
	}, nil
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Resolve: 401/403 — неверный токен, прочие ошибки — недоступность провайдера.
func (p *RemoteProvider) Resolve(ctx context.Context, raw string) (*identity.ExternalUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var u remoteUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: decode user: %w", ErrUnavailable, err)
	}

	if u.ID == "" {
		return nil, fmt.Errorf("%w: empty user", ErrInvalidToken)
	}

	return &identity.ExternalUser{ID: u.ID, Email: strings.ToLower(u.Email)}, nil
}

var (
	_ identity.ExternalAuthProvider = (*JWKSProvider)(nil)
	_ identity.ExternalAuthProvider = (*RemoteProvider)(nil)
)
