package models

import "github.com/google/uuid"

// AuthMethod — способ, которым вызывающий прошёл аутентификацию.
type AuthMethod string

const (
	// AuthMethodToken — собственный access-токен сервиса (header или cookie).
	AuthMethodToken AuthMethod = "token"
	// AuthMethodExternal — токен внешнего провайдера (Supabase, Google).
	AuthMethodExternal AuthMethod = "external"
	// AuthMethodAPIKey — долгоживущий API-ключ из заголовка X-API-Key.
	AuthMethodAPIKey AuthMethod = "api_key"
)

// Identity — результат разрешения учётных данных запроса.
// Хранит пользователя и происхождение аутентификации, чтобы
// нижележащие обработчики могли его записать (например, в историю команд).
type Identity struct {
	User   User
	Method AuthMethod
	// APIKeyID заполнен только при Method == AuthMethodAPIKey.
	APIKeyID uuid.UUID
	// Provider — имя стратегии, подтвердившей токен ("local", "supabase", "google").
	Provider string
}
