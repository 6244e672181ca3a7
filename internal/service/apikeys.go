package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/pkg/redact"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// maxKeyNameLen — предел длины имени ключа в символах.
const maxKeyNameLen = 100

// ListAPIKeys возвращает ключи пользователя без секретов.
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	const op = "service.apikeys.ListAPIKeys"

	keys, err := s.keys.APIKeysByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return keys, nil
}

// CreateAPIKey выпускает новый ключ. Открытое значение возвращается
// ровно один раз; в хранилище попадают только хэш и префикс.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*models.IssuedAPIKey, error) {
	const op = "service.apikeys.CreateAPIKey"

	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxKeyNameLen {
		return nil, fmt.Errorf("%s: %w: name must be 1..%d characters", op, ErrInvalidArgument, maxKeyNameLen)
	}

	gen, err := identity.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key := models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyPrefix: gen.Prefix,
		KeyHash:   gen.Hash,
		CreatedAt: s.now().UTC(),
	}

	if err := s.keys.CreateAPIKey(ctx, &key, MaxAPIKeysPerUser); err != nil {
		switch {
		case errors.Is(err, storage.ErrLimitReached):
			return nil, fmt.Errorf("%s: %w", op, ErrQuotaExceeded)
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("api_key_created",
		"user_id", userID.String(),
		"key_id", key.ID.String(),
		"prefix", redact.APIKey(gen.Plain),
	)

	return &models.IssuedAPIKey{APIKey: key, Plain: gen.Plain}, nil
}

// DeleteAPIKey удаляет ключ пользователя; чужой ключ — ErrNotFound.
func (s *Service) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	const op = "service.apikeys.DeleteAPIKey"

	if err := s.keys.DeleteAPIKey(ctx, userID, keyID); err != nil {
		return fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	log.From(ctx).Info("api_key_deleted", "user_id", userID.String(), "key_id", keyID.String())

	return nil
}
