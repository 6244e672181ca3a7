package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/token"
)

// Principal — кого подтвердил верификатор. Пользователь ещё не загружен.
type Principal struct {
	// UserID — идентификатор пользователя (для внешних провайдеров может быть пустым).
	UserID string
	Email  string
	Method models.AuthMethod
}

// Verifier — одна стратегия проверки токена в цепочке резолвера.
// Стратегии пробуются по порядку; первая успешная побеждает.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, raw string) (*Principal, error)
}

// ExternalUser — пользователь, подтверждённый внешним провайдером.
type ExternalUser struct {
	ID    string
	Email string
}

// ExternalAuthProvider разрешает токен, выпущенный вне сервиса.
type ExternalAuthProvider interface {
	Resolve(ctx context.Context, raw string) (*ExternalUser, error)
}

// LocalVerifier проверяет собственные access-токены сервиса.
type LocalVerifier struct {
	codec *token.Codec
}

// NewLocalVerifier создаёт стратегию над кодеком.
func NewLocalVerifier(codec *token.Codec) *LocalVerifier {
	return &LocalVerifier{codec: codec}
}

func (v *LocalVerifier) Name() string { return "local" }

// Verify принимает только access-токены; refresh даёт token.ErrWrongTokenKind.
func (v *LocalVerifier) Verify(_ context.Context, raw string) (*Principal, error) {
	tok, err := v.codec.VerifyKind(raw, token.KindAccess)
	if err != nil {
		return nil, err
	}

	return &Principal{UserID: tok.Subject, Method: models.AuthMethodToken}, nil
}

// ExternalVerifier адаптирует ExternalAuthProvider к цепочке.
type ExternalVerifier struct {
	name     string
	provider ExternalAuthProvider
}

// NewExternalVerifier создаёт стратегию с именем name (для логов и метрик).
func NewExternalVerifier(name string, provider ExternalAuthProvider) *ExternalVerifier {
	return &ExternalVerifier{name: name, provider: provider}
}

func (v *ExternalVerifier) Name() string { return v.name }

func (v *ExternalVerifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	u, err := v.provider.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	if u == nil || (u.ID == "" && u.Email == "") {
		return nil, fmt.Errorf("%s: empty external user", v.name)
	}

	return &Principal{UserID: u.ID, Email: u.Email, Method: models.AuthMethodExternal}, nil
}

// stopsChain сообщает, что ошибка окончательна и следующие стратегии не пробуются.
func stopsChain(err error) bool {
	return errors.Is(err, token.ErrWrongTokenKind)
}
