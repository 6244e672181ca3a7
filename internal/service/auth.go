package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/pkg/redact"
	"github.com/pribylovaa/command-my-startup/internal/storage"
	"github.com/pribylovaa/command-my-startup/internal/token"
)

// Registration — входные данные регистрации.
type Registration struct {
	Email    string
	Password string
	FullName string
}

// Session — результат входа: пользователь и пара токенов.
type Session struct {
	User   *models.User
	Tokens *models.TokenPair
}

// Register регистрирует нового пользователя и сразу выдаёт токены.
// Клиент Stripe создаётся best-effort: ошибка биллинга не отменяет регистрацию.
func (s *Service) Register(ctx context.Context, in Registration) (*Session, error) {
	const op = "service.auth.Register"

	normEmail, err := validateEmail(in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.users.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hashedPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.attachCustomer(ctx, user)

	return s.newSession(user)
}

// attachCustomer создаёт клиента Stripe для нового пользователя.
func (s *Service) attachCustomer(ctx context.Context, user *models.User) {
	if s.billing == nil || !s.billing.Enabled() {
		return
	}

	logger := log.From(ctx)

	customerID, err := s.billing.CreateCustomer(ctx, user.Email, user.FullName, user.ID.String())
	if err != nil {
		logger.Warn("stripe_customer_create_failed",
			"user_id", user.ID.String(),
			"email", redact.Email(user.Email),
			"err", err,
		)
		return
	}

	if err := s.users.SetStripeCustomer(ctx, user.ID, customerID); err != nil {
		logger.Warn("stripe_customer_save_failed", "user_id", user.ID.String(), "err", err)
		return
	}

	user.StripeCustomerID = customerID
}

// Login выполняет вход по email+пароль.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "service.auth.Login"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if len(password) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Пользователи внешнего провайдера не имеют локального пароля.
	if user.PasswordHash == "" || !checkPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return s.newSession(user)
}

// Refresh обменивает refresh-токен на новую пару; старый отзывается.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	const op = "service.auth.Refresh"

	tok, err := s.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(tok.Subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.users.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	fresh, err := s.revocations.Consume(ctx, tok.ID, tok.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !fresh {
		log.From(ctx).Debug("refresh_token_reused", "user_id", uid.String())
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	return s.newSession(user)
}

// Logout отзывает refresh-токен до истечения его срока.
// Некорректный или уже отозванный токен не считается ошибкой.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Logout"

	if refreshToken == "" {
		return nil
	}

	tok, err := s.verifyRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.revocations.Revoke(ctx, tok.ID, tok.ExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) verifyRefresh(ctx context.Context, raw string) (*token.Token, error) {
	tok, err := s.codec.VerifyKind(raw, token.KindRefresh)
	if err != nil {
		log.From(ctx).Debug("refresh_token_rejected", "token", redact.Token(), "err", err)
		return nil, ErrInvalidToken
	}

	revoked, err := s.revocations.IsRevoked(ctx, tok.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		log.From(ctx).Debug("refresh_token_revoked", "token", redact.Token())
		return nil, ErrTokenRevoked
	}

	return tok, nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	const op = "service.auth.newSession"

	pair, err := s.codec.IssuePair(user.ID.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Session{User: user, Tokens: pair}, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и приводит его к нижнему регистру.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword: длина >= 8, хотя бы одна буква и одна цифра.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < 8 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLetter, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
