// token выпускает и проверяет подписанные токены сервиса (HS256 JWT).
//
// Формат payload: sub, jti, iat, exp, type (access|refresh), aud.
// Проверка полностью локальная и не обращается к хранилищам: отзыв возможен
// только по истечении exp (или через внешний denylist по jti).
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/models"
)

// Kind — дискриминатор токена.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Token — проверенное содержимое токена.
type Token struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Kind      Kind
	Audience  string
}

type claims struct {
	Kind Kind `json:"type"`
	jwt.RegisteredClaims
}

// Codec — выпуск и проверка токенов одним симметричным секретом.
// Безопасен для конкурентного использования.
type Codec struct {
	secret     []byte
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник времени (для тестов истечения).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// MinTTL — наименьший срок жизни токена. JWT хранит время в секундах,
// и при меньшем TTL exp совпал бы с iat.
const MinTTL = time.Second

// New создаёт кодек из секции auth конфигурации.
func New(cfg config.AuthConfig, opts ...Option) (*Codec, error) {
	const op = "token.codec.New"

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%s: empty jwt secret: %w", op, ErrInvalidInput)
	}

	if cfg.Audience == "" {
		return nil, fmt.Errorf("%s: empty audience: %w", op, ErrInvalidInput)
	}

	if cfg.AccessTokenTTL < MinTTL || cfg.RefreshTokenTTL < MinTTL {
		return nil, fmt.Errorf("%s: token ttl below %s: %w", op, MinTTL, ErrInvalidInput)
	}

	c := &Codec{
		secret:     []byte(cfg.JWTSecret),
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// AccessTTL возвращает срок жизни access-токена.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL возвращает срок жизни refresh-токена.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue подписывает новый токен для subject с уникальным jti.
func (c *Codec) Issue(subject string, kind Kind, ttl time.Duration) (string, error) {
	signed, _, err := c.issue(subject, kind, ttl)
	return signed, err
}

func (c *Codec) issue(subject string, kind Kind, ttl time.Duration) (string, time.Time, error) {
	const op = "token.codec.Issue"

	if subject == "" || ttl < MinTTL || !kind.valid() {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	// JWT хранит секунды; обрезаем, чтобы exp-iat == ttl без дробной части.
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	cl := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Audience:  jwt.ClaimStrings{c.audience},
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// IssuePair выпускает access и refresh токены с TTL из конфигурации.
func (c *Codec) IssuePair(subject string) (*models.TokenPair, error) {
	const op = "token.codec.IssuePair"

	access, accessExp, err := c.issue(subject, KindAccess, c.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := c.issue(subject, KindRefresh, c.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify проверяет подпись, аудиторию и срок действия и возвращает содержимое.
//
// Подпись проверяется до разбора claims: любое изменение payload или
// подписи даёт ErrInvalidSignature, а не ошибку декодирования JSON.
func (c *Codec) Verify(tokenStr string) (*Token, error) {
	const op = "token.codec.Verify"

	if err := c.checkSignature(tokenStr); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var cl claims
	_, err := jwt.ParseWithClaims(tokenStr, &cl,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	if cl.Subject == "" || cl.ID == "" || cl.IssuedAt == nil || !cl.Kind.valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}

	return &Token{
		Subject:   cl.Subject,
		ID:        cl.ID,
		IssuedAt:  cl.IssuedAt.Time.UTC(),
		ExpiresAt: cl.ExpiresAt.Time.UTC(),
		Kind:      cl.Kind,
		Audience:  c.audience,
	}, nil
}

// VerifyKind — Verify с дополнительной проверкой вида токена.
func (c *Codec) VerifyKind(tokenStr string, want Kind) (*Token, error) {
	const op = "token.codec.VerifyKind"

	tok, err := c.Verify(tokenStr)
	if err != nil {
		return nil, err
	}

	if tok.Kind != want {
		return nil, fmt.Errorf("%s: got %s, want %s: %w", op, tok.Kind, want, ErrWrongTokenKind)
	}

	return tok, nil
}

func (c *Codec) checkSignature(tokenStr string) error {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return ErrMalformedToken
	}

	// Strict: ненулевые хвостовые биты последнего символа тоже считаются подменой.
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil || len(sig) == 0 {
		return ErrInvalidSignature
	}

	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, c.secret); err != nil {
		return ErrInvalidSignature
	}

	return nil
}

// classify сводит ошибки jwt/v5 к таксономии пакета.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}
