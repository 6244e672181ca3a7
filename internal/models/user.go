package models

import (
	"time"

	"github.com/google/uuid"
)

// User — модель пользователя в системе.
type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	// AvatarKey — ключ объекта в бакете аватаров (пустой, если аватара нет).
	AvatarKey string
	// StripeCustomerID — идентификатор клиента в Stripe (пустой, если биллинг выключен).
	StripeCustomerID   string
	SubscriptionStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProfileUpdate — изменяемые пользователем поля профиля.
// nil означает «не менять».
type ProfileUpdate struct {
	FullName *string
	Email    *string
}
