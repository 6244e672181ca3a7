package models

import (
	"time"

	"github.com/google/uuid"
)

// CommandRequest — входные параметры выполнения AI-команды.
type CommandRequest struct {
	Prompt       string
	Model        string
	SystemPrompt string
	Temperature  float64
	// MaxTokens == 0 означает «на усмотрение провайдера».
	MaxTokens int
}

// Completion — ответ AI-провайдера.
type Completion struct {
	Content    string
	Model      string
	TokensUsed int
}

// HistoryEntry — сохранённое выполнение команды.
type HistoryEntry struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Prompt     string
	Model      string
	Content    string
	TokensUsed int
	AuthMethod AuthMethod
	// APIKeyID заполнен, если команда выполнена через API-ключ.
	APIKeyID  *uuid.UUID
	CreatedAt time.Time
}

// HistoryFilter — параметры выборки истории.
type HistoryFilter struct {
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
}

// ModelUsage — число команд по модели.
type ModelUsage struct {
	Model string
	Count int64
}

// HistoryStats — агрегаты за период.
type HistoryStats struct {
	Period            string
	TotalCommands     int64
	TotalTokens       int64
	ModelDistribution []ModelUsage
}
