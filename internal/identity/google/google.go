// google принимает Google ID-токены (вход через Google на фронтенде).
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/pribylovaa/command-my-startup/internal/identity"
)

// ErrInvalidToken — Google отверг токен или он выпущен для другого клиента.
var ErrInvalidToken = errors.New("google: invalid id token")

// Подменяется в тестах.
var googleValidate = idtoken.Validate

// Provider проверяет ID-токены против OAuth client id приложения.
type Provider struct {
	clientID string
}

// New возвращает провайдер; пустой clientID недопустим.
func New(clientID string) (*Provider, error) {
	if clientID == "" {
		return nil, errors.New("google: client id is required")
	}

	return &Provider{clientID: clientID}, nil
}

// Resolve требует подтверждённый email: по нему находится пользователь,
// если subject Google не совпадает с ID в базе.
func (p *Provider) Resolve(ctx context.Context, raw string) (*identity.ExternalUser, error) {
	payload, err := googleValidate(ctx, raw, p.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email == "" || !verified {
		return nil, fmt.Errorf("%w: email missing or unverified", ErrInvalidToken)
	}

	return &identity.ExternalUser{ID: payload.Subject, Email: strings.ToLower(email)}, nil
}

var _ identity.ExternalAuthProvider = (*Provider)(nil)
