package minio

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"

	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// avatarExt — допустимые типы аватаров и расширения ключей.
var avatarExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// AvatarUploadURL выдаёт presigned PUT с ключом avatars/<userID>/<uuid>.<ext>.
func (s *AvatarsStorage) AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, contentLength int64) (*storage.UploadInfo, error) {
	const op = "storage/minio/AvatarUploadURL"

	if contentLength <= 0 || contentLength > s.cfg.MaxSize {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	ext, ok := avatarExt[contentType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	key := path.Join("avatars", userID.String(), uuid.NewString()+ext)

	u, err := s.client.PresignedPutObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &storage.UploadInfo{
		UploadURL: u.String(),
		AvatarKey: key,
		ExpiresIn: s.cfg.PresignTTL,
		RequiredHeaders: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": strconv.FormatInt(contentLength, 10),
		},
	}, nil
}

// ConfirmAvatar проверяет префикс ключа, наличие объекта и его размер/тип.
func (s *AvatarsStorage) ConfirmAvatar(ctx context.Context, userID uuid.UUID, key string) error {
	const op = "storage/minio/ConfirmAvatar"

	if !strings.HasPrefix(key, "avatars/"+userID.String()+"/") {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	info, err := s.client.StatObject(ctx, s.cfg.Bucket, key, mclient.StatObjectOptions{})
	if err != nil {
		errResp := mclient.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.StatusCode == 404 {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if info.Size <= 0 || info.Size > s.cfg.MaxSize {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	if ct := info.ContentType; ct != "" {
		if _, ok := avatarExt[ct]; !ok {
			return fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
		}
	}

	return nil
}

// AvatarURL возвращает presigned GET на время PresignTTL.
func (s *AvatarsStorage) AvatarURL(ctx context.Context, key string) (string, error) {
	const op = "storage/minio/AvatarURL"

	if key == "" {
		return "", nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return u.String(), nil
}
