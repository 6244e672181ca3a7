// service содержит бизнес-логику приложения: регистрацию и вход,
// профиль и API-ключи, выполнение AI-команд, историю и биллинг.
//
// Основные аспекты:
//   - Все зависимости передаются через Deps; Service не хранит состояние
//     запроса и безопасен для конкурентного использования при условии,
//     что зависимости потокобезопасны.
//   - Ошибки возвращаются и далее маппятся HTTP-слоем
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/command-my-startup/internal/billing"
	"github.com/pribylovaa/command-my-startup/internal/cache"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
	"github.com/pribylovaa/command-my-startup/internal/token"
)

// MaxAPIKeysPerUser — предел живых API-ключей одного пользователя.
const MaxAPIKeysPerUser = 5

var (
	// ErrInvalidCredentials — пара email/пароль неверна или пользователь не найден.
	// HTTP 401 invalid_credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — refresh-токен некорректен, истёк или не refresh. HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked — refresh-токен уже отозван (logout/ротация). HTTP 401.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrEmailTaken — e-mail уже занят другим пользователем. HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат. HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль короче 8 символов или без буквы/цифры. HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrQuotaExceeded — у пользователя уже MaxAPIKeysPerUser ключей. HTTP 400.
	ErrQuotaExceeded = errors.New("api key quota exceeded")

	// ErrNotFound — запись не найдена или принадлежит другому пользователю. HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument — некорректные параметры запроса. HTTP 400.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFeatureDisabled — функция не сконфигурирована (аватары, биллинг). HTTP 503.
	ErrFeatureDisabled = errors.New("feature disabled")
)

// Completer выполняет AI-команду (ai.Router).
type Completer interface {
	Complete(ctx context.Context, req models.CommandRequest) (*models.Completion, error)
}

// Billing — операции Stripe, которые нужны сервису (billing.Stripe).
type Billing interface {
	Enabled() bool
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	ParseSubscriptionEvent(payload []byte, signature string) (*billing.SubscriptionUpdate, error)
}

// Deps — зависимости сервиса. Avatars и Billing могут быть nil.
type Deps struct {
	Users       storage.UserStorage
	Keys        storage.APIKeyStorage
	History     storage.HistoryStorage
	Avatars     storage.AvatarStorage
	Revocations cache.Revocations
	Codec       *token.Codec
	AI          Completer
	Billing     Billing
	// Now — источник времени; nil означает time.Now.
	Now func() time.Time
}

// Service описывает бизнес-логику приложения.
type Service struct {
	users       storage.UserStorage
	keys        storage.APIKeyStorage
	history     storage.HistoryStorage
	avatars     storage.AvatarStorage
	revocations cache.Revocations
	codec       *token.Codec
	ai          Completer
	billing     Billing
	now         func() time.Time
}

// New создаёт новый экземпляр Service.
func New(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		users:       d.Users,
		keys:        d.Keys,
		history:     d.History,
		avatars:     d.Avatars,
		revocations: d.Revocations,
		codec:       d.Codec,
		ai:          d.AI,
		billing:     d.Billing,
		now:         now,
	}
}
