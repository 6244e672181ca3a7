package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

const apiKeyColumns = `id, user_id, name, key_prefix, key_hash, created_at, last_used_at`

// CreateAPIKey сохраняет ключ, если у пользователя меньше maxActive ключей.
// Строка пользователя блокируется на время транзакции, поэтому параллельные
// создания для одного пользователя не превышают квоту.
func (s *Storage) CreateAPIKey(ctx context.Context, key *models.APIKey, maxActive int) error {
	const op = "storage.postgres.CreateAPIKey"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, key.UserID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM api_keys WHERE user_id = $1`, key.UserID).Scan(&count); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if count >= maxActive {
		return fmt.Errorf("%s: %w", op, storage.ErrLimitReached)
	}

	query := `
		INSERT INTO api_keys(id, user_id, name, key_prefix, key_hash, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.Exec(ctx, query,
		key.ID,
		key.UserID,
		key.Name,
		key.KeyPrefix,
		key.KeyHash,
		key.CreatedAt,
		key.LastUsedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// APIKeysByUser возвращает ключи пользователя, новые первыми.
func (s *Storage) APIKeysByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	const op = "storage.postgres.APIKeysByUser"

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	keys := make([]models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return keys, nil
}

// APIKeyByHash находит ключ по sha256-хэшу.
func (s *Storage) APIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	const op = "storage.postgres.APIKeyByHash"

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	key, err := scanAPIKey(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return key, nil
}

// TouchAPIKey обновляет время последнего использования ключа.
func (s *Storage) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "storage.postgres.TouchAPIKey"

	return s.execOne(ctx, op, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
}

// DeleteAPIKey удаляет ключ, только если он принадлежит userID.
func (s *Storage) DeleteAPIKey(ctx context.Context, userID, id uuid.UUID) error {
	const op = "storage.postgres.DeleteAPIKey"

	return s.execOne(ctx, op, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
}

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.KeyPrefix,
		&key.KeyHash,
		&key.CreatedAt,
		&key.LastUsedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &key, nil
}
