package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/ключ/команда).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/хэш ключа).
	ErrAlreadyExists = errors.New("already exists")
	// ErrLimitReached — у пользователя уже максимальное число API-ключей.
	ErrLimitReached = errors.New("limit reached")
	// ErrInvalidArgument — нарушены ограничения запроса (тип/размер аватара, чужой ключ).
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UpdateProfile применяет изменения профиля и возвращает обновлённую запись.
	UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate, now time.Time) (*models.User, error)
	// SetAvatarKey сохраняет ключ подтверждённого аватара.
	SetAvatarKey(ctx context.Context, id uuid.UUID, key string) error
	// SetStripeCustomer привязывает клиента Stripe к пользователю.
	SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
	// SetSubscriptionStatus обновляет статус подписки по клиенту Stripe.
	SetSubscriptionStatus(ctx context.Context, customerID, status string) error
}

// APIKeyStorage выполняет операции над API-ключами.
type APIKeyStorage interface {
	// CreateAPIKey сохраняет ключ, если у пользователя меньше maxActive ключей;
	// иначе ErrLimitReached. Проверка и вставка атомарны.
	CreateAPIKey(ctx context.Context, key *models.APIKey, maxActive int) error
	// APIKeysByUser возвращает ключи пользователя, новые первыми.
	APIKeysByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error)
	// APIKeyByHash находит ключ по sha256-хэшу.
	APIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	// TouchAPIKey обновляет last_used_at.
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeleteAPIKey удаляет ключ пользователя; чужой или отсутствующий — ErrNotFound.
	DeleteAPIKey(ctx context.Context, userID, id uuid.UUID) error
}

// HistoryStorage хранит историю выполненных команд.
// Реализации: PostgreSQL (по умолчанию) и MongoDB.
type HistoryStorage interface {
	SaveHistory(ctx context.Context, e *models.HistoryEntry) error
	// ListHistory возвращает записи пользователя, новые первыми.
	ListHistory(ctx context.Context, userID uuid.UUID, f models.HistoryFilter) ([]models.HistoryEntry, error)
	HistoryByID(ctx context.Context, userID, id uuid.UUID) (*models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, userID, id uuid.UUID) error
	// HistoryStats считает агрегаты по записям с created_at >= since.
	HistoryStats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.HistoryStats, error)
}

// UploadInfo — данные для прямой загрузки аватара по presigned PUT.
// RequiredHeaders клиент обязан передать при PUT.
type UploadInfo struct {
	UploadURL       string
	AvatarKey       string
	ExpiresIn       time.Duration
	RequiredHeaders map[string]string
}

// AvatarStorage — объектное хранилище аватаров.
type AvatarStorage interface {
	// AvatarUploadURL валидирует тип/размер и выдаёт presigned PUT.
	AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, contentLength int64) (*UploadInfo, error)
	// ConfirmAvatar проверяет, что объект загружен и принадлежит пользователю.
	ConfirmAvatar(ctx context.Context, userID uuid.UUID, key string) error
	// AvatarURL возвращает presigned GET для отображения аватара.
	AvatarURL(ctx context.Context, key string) (string, error)
}

// Storage задаёт контракт основной (реляционной) БД.
type Storage interface {
	UserStorage
	APIKeyStorage
	HistoryStorage
	Close()
}
