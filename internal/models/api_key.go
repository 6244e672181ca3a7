package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey — запись о долгоживущем ключе. Сам ключ на сервере не хранится,
// только его sha256-хэш и публичный префикс для отображения.
type APIKey struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	KeyPrefix  string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// IssuedAPIKey — ключ сразу после создания; Plain отдаётся клиенту ровно один раз.
type IssuedAPIKey struct {
	APIKey
	Plain string
}
