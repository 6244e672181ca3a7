package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// Profile — пользователь и ссылка на его аватар.
type Profile struct {
	User      models.User
	AvatarURL string
}

// Profile возвращает профиль пользователя.
// Ошибка подписи ссылки на аватар не мешает отдать профиль.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	const op = "service.profile.Profile"

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return s.profileOf(ctx, user), nil
}

// ProfileOf дополняет уже загруженного пользователя ссылкой на аватар.
func (s *Service) ProfileOf(ctx context.Context, user *models.User) *Profile {
	return s.profileOf(ctx, user)
}

func (s *Service) profileOf(ctx context.Context, user *models.User) *Profile {
	p := &Profile{User: *user}
	if s.avatars == nil || user.AvatarKey == "" {
		return p
	}

	url, err := s.avatars.AvatarURL(ctx, user.AvatarKey)
	if err != nil {
		log.From(ctx).Warn("avatar_url_failed", "user_id", user.ID.String(), "err", err)
		return p
	}
	p.AvatarURL = url

	return p
}

// UpdateProfile меняет имя и/или email.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) (*Profile, error) {
	const op = "service.profile.UpdateProfile"

	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if len([]rune(name)) > 200 {
			return nil, fmt.Errorf("%s: %w: full_name too long", op, ErrInvalidArgument)
		}
		upd.FullName = &name
	}

	if upd.Email != nil {
		email, err := validateEmail(*upd.Email)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
		}
		upd.Email = &email
	}

	user, err := s.users.UpdateProfile(ctx, userID, upd, s.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return s.profileOf(ctx, user), nil
}

// AvatarUploadURL выдаёт presigned PUT для загрузки аватара.
func (s *Service) AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, size int64) (*storage.UploadInfo, error) {
	const op = "service.profile.AvatarUploadURL"

	if s.avatars == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	info, err := s.avatars.AvatarUploadURL(ctx, userID, contentType, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return info, nil
}

// ConfirmAvatar проверяет загруженный объект и сохраняет его ключ в профиле.
func (s *Service) ConfirmAvatar(ctx context.Context, userID uuid.UUID, key string) (*Profile, error) {
	const op = "service.profile.ConfirmAvatar"

	if s.avatars == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}

	if err := s.avatars.ConfirmAvatar(ctx, userID, key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	if err := s.users.SetAvatarKey(ctx, userID, key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapStorageErr(err))
	}

	return s.Profile(ctx, userID)
}

// mapStorageErr переводит ошибки хранилища в ошибки сервиса.
func mapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return err
	}
}
