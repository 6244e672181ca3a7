package supabase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/command-my-startup/internal/config"
)

const (
	testIssuer = "https://project.supabase.co/auth/v1"
	testKID    = "test-key"
)

func newJWKS(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	payload, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	return key, srv.URL
}

func sign(t *testing.T, b *jwt.Builder, key *rsa.PrivateKey) string {
	t.Helper()

	tok, err := b.Build()
	require.NoError(t, err)

	priv, err := jwk.FromRaw(key)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))
	require.NoError(t, priv.Set(jwk.KeyIDKey, testKID))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv))
	require.NoError(t, err)

	return string(signed)
}

func newJWKSProvider(t *testing.T, jwksURL string) *JWKSProvider {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := NewJWKSProvider(ctx, config.SupabaseConfig{
		JWKSURL:     jwksURL,
		Issuer:      testIssuer,
		Audience:    "authenticated",
		MinRefresh:  time.Minute,
		HTTPTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Warmup(ctx))

	return p
}

func TestJWKSProvider_Valid(t *testing.T) {
	t.Parallel()

	key, url := newJWKS(t)
	p := newJWKSProvider(t, url)

	now := time.Now()
	raw := sign(t, jwt.NewBuilder().
		Issuer(testIssuer).
		Subject("0b6f7f4e-7d7a-4f6b-9a54-0a8d0f0d2c11").
		Audience([]string{"authenticated"}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", "User@Example.com"), key)

	u, err := p.Resolve(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "0b6f7f4e-7d7a-4f6b-9a54-0a8d0f0d2c11", u.ID)
	require.Equal(t, "user@example.com", u.Email)
}

func TestJWKSProvider_Rejects(t *testing.T) {
	t.Parallel()

	key, url := newJWKS(t)
	p := newJWKSProvider(t, url)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	base := func() *jwt.Builder {
		return jwt.NewBuilder().
			Issuer(testIssuer).
			Subject("u1").
			Audience([]string{"authenticated"}).
			IssuedAt(now).
			Expiration(now.Add(time.Hour))
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "expired", raw: sign(t, base().Expiration(now.Add(-time.Hour)), key)},
		{name: "wrong issuer", raw: sign(t, base().Issuer("https://evil.example"), key)},
		{name: "wrong audience", raw: sign(t, base().Audience([]string{"anon"}), key)},
		{name: "foreign key", raw: sign(t, base(), other)},
		{name: "garbage", raw: "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Resolve(context.Background(), tt.raw)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewJWKSProvider_NotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewJWKSProvider(context.Background(), config.SupabaseConfig{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestRemoteProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/user", r.URL.Path)
		require.Equal(t, "anon", r.Header.Get("apikey"))

		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "u-1", "email": "A@B.io"})
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(config.SupabaseConfig{URL: srv.URL + "/", AnonKey: "anon", HTTPTimeout: time.Second}, nil)
	require.NoError(t, err)

	u, err := p.Resolve(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "u-1", u.ID)
	require.Equal(t, "a@b.io", u.Email)

	_, err = p.Resolve(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.Resolve(context.Background(), "broken")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRemoteProvider_NotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewRemoteProvider(config.SupabaseConfig{URL: "http://x"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}
