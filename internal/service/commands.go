package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/ai"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

// maxPromptLen — предел длины промпта в символах.
const maxPromptLen = 32_000

// CommandInput — параметры команды. Temperature == nil означает значение по умолчанию.
type CommandInput struct {
	Prompt       string
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
}

// CommandResult — ответ провайдера и запись истории.
// HistoryID == uuid.Nil, если запись сохранить не удалось.
type CommandResult struct {
	Completion models.Completion
	HistoryID  uuid.UUID
	CreatedAt  time.Time
}

// ExecuteCommand выполняет команду от имени вызывающего и сохраняет её в историю
// вместе с происхождением аутентификации. Ошибка сохранения только логируется.
func (s *Service) ExecuteCommand(ctx context.Context, caller *models.Identity, in CommandInput) (*CommandResult, error) {
	const op = "service.commands.ExecuteCommand"

	req, err := normalizeCommand(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := s.ai.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, ai.ErrUnsupportedModel) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	entry := &models.HistoryEntry{
		ID:         uuid.New(),
		UserID:     caller.User.ID,
		Prompt:     req.Prompt,
		Model:      req.Model,
		Content:    out.Content,
		TokensUsed: out.TokensUsed,
		AuthMethod: caller.Method,
		CreatedAt:  now,
	}
	if caller.Method == models.AuthMethodAPIKey && caller.APIKeyID != uuid.Nil {
		keyID := caller.APIKeyID
		entry.APIKeyID = &keyID
	}

	res := &CommandResult{Completion: *out, CreatedAt: now}

	if err := s.history.SaveHistory(ctx, entry); err != nil {
		log.From(ctx).Error("history_save_failed",
			"op", op,
			"user_id", caller.User.ID.String(),
			"model", req.Model,
			"err", err,
		)
		return res, nil
	}

	res.HistoryID = entry.ID

	return res, nil
}

func normalizeCommand(in CommandInput) (models.CommandRequest, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return models.CommandRequest{}, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(prompt) > maxPromptLen {
		return models.CommandRequest{}, fmt.Errorf("%w: prompt is too long", ErrInvalidArgument)
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		return models.CommandRequest{}, fmt.Errorf("%w: model is required", ErrInvalidArgument)
	}

	temp := ai.DefaultTemperature
	if in.Temperature != nil {
		temp = *in.Temperature
	}
	if temp < 0 || temp > 1 {
		return models.CommandRequest{}, fmt.Errorf("%w: temperature must be within [0, 1]", ErrInvalidArgument)
	}

	if in.MaxTokens < 0 || in.MaxTokens > ai.MaxTokensLimit {
		return models.CommandRequest{}, fmt.Errorf("%w: max_tokens must be within [1, %d]", ErrInvalidArgument, ai.MaxTokensLimit)
	}

	return models.CommandRequest{
		Prompt:       prompt,
		Model:        model,
		SystemPrompt: strings.TrimSpace(in.SystemPrompt),
		Temperature:  temp,
		MaxTokens:    in.MaxTokens,
	}, nil
}
