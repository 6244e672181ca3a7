package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

const userColumns = `id, email, full_name, password_hash, avatar_key,
	stripe_customer_id, subscription_status, created_at, updated_at`

// SaveUser создает нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(id, email, full_name, password_hash, avatar_key,
			stripe_customer_id, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.AvatarKey,
		user.StripeCustomerID,
		user.SubscriptionStatus,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UpdateProfile обновляет full_name/email; nil-поля сохраняют текущее значение.
func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate, now time.Time) (*models.User, error) {
	const op = "storage.postgres.UpdateProfile"

	query := `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
		    email = COALESCE($3, email),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRow(ctx, query, id, upd.FullName, upd.Email, now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// SetAvatarKey сохраняет ключ аватара.
func (s *Storage) SetAvatarKey(ctx context.Context, id uuid.UUID, key string) error {
	const op = "storage.postgres.SetAvatarKey"

	return s.execOne(ctx, op,
		`UPDATE users SET avatar_key = $2, updated_at = now() WHERE id = $1`, id, key)
}

// SetStripeCustomer привязывает клиента Stripe.
func (s *Storage) SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	const op = "storage.postgres.SetStripeCustomer"

	return s.execOne(ctx, op,
		`UPDATE users SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`, id, customerID)
}

// SetSubscriptionStatus обновляет статус подписки по клиенту Stripe.
func (s *Storage) SetSubscriptionStatus(ctx context.Context, customerID, status string) error {
	const op = "storage.postgres.SetSubscriptionStatus"

	return s.execOne(ctx, op,
		`UPDATE users SET subscription_status = $2, updated_at = now() WHERE stripe_customer_id = $1`,
		customerID, status)
}

// execOne выполняет UPDATE/DELETE и возвращает ErrNotFound, если строк не затронуто.
func (s *Storage) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.AvatarKey,
		&user.StripeCustomerID,
		&user.SubscriptionStatus,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
