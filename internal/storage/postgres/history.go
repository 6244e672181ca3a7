package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

const historyColumns = `id, user_id, prompt, model, content, tokens_used, auth_method, api_key_id, created_at`

// SaveHistory сохраняет выполненную команду.
func (s *Storage) SaveHistory(ctx context.Context, e *models.HistoryEntry) error {
	const op = "storage.postgres.SaveHistory"

	query := `
		INSERT INTO command_history(` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.Prompt,
		e.Model,
		e.Content,
		e.TokensUsed,
		string(e.AuthMethod),
		e.APIKeyID,
		e.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ListHistory возвращает записи пользователя, новые первыми,
// с учётом границ [From, To] и пагинации.
func (s *Storage) ListHistory(ctx context.Context, userID uuid.UUID, f models.HistoryFilter) ([]models.HistoryEntry, error) {
	const op = "storage.postgres.ListHistory"

	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)

	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM command_history WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		historyColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

// HistoryByID возвращает запись пользователя; чужая запись неотличима от отсутствующей.
func (s *Storage) HistoryByID(ctx context.Context, userID, id uuid.UUID) (*models.HistoryEntry, error) {
	const op = "storage.postgres.HistoryByID"

	query := `SELECT ` + historyColumns + ` FROM command_history WHERE id = $1 AND user_id = $2`

	e, err := scanHistory(s.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return e, nil
}

// DeleteHistory удаляет запись пользователя.
func (s *Storage) DeleteHistory(ctx context.Context, userID, id uuid.UUID) error {
	const op = "storage.postgres.DeleteHistory"

	return s.execOne(ctx, op, `DELETE FROM command_history WHERE id = $1 AND user_id = $2`, id, userID)
}

// HistoryStats считает количество команд, сумму токенов и распределение по моделям.
func (s *Storage) HistoryStats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.HistoryStats, error) {
	const op = "storage.postgres.HistoryStats"

	query := `
		SELECT model, count(*), COALESCE(sum(tokens_used), 0)
		FROM command_history
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY model
		ORDER BY count(*) DESC, model
	`

	rows, err := s.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	stats := &models.HistoryStats{ModelDistribution: make([]models.ModelUsage, 0)}
	for rows.Next() {
		var (
			usage  models.ModelUsage
			tokens int64
		)

		if err := rows.Scan(&usage.Model, &usage.Count, &tokens); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		stats.TotalCommands += usage.Count
		stats.TotalTokens += tokens
		stats.ModelDistribution = append(stats.ModelDistribution, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stats, nil
}

func scanHistory(row pgx.Row) (*models.HistoryEntry, error) {
	var (
		e      models.HistoryEntry
		method string
	)

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Prompt,
		&e.Model,
		&e.Content,
		&e.TokensUsed,
		&method,
		&e.APIKeyID,
		&e.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	e.AuthMethod = models.AuthMethod(method)

	return &e, nil
}
