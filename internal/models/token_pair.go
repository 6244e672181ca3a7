package models

import "time"

// TokenPair — пара токенов, выдаваемая при входе/регистрации/обновлении.
//
// Оба токена — JWT одного кодека, различающиеся claim "type" и TTL.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
