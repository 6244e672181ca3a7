// minio реализует storage.AvatarStorage поверх MinIO/S3:
// presigned PUT для загрузки, подтверждение через StatObject
// и presigned GET для отображения.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/storage"
)

// AvatarsStorage — адаптер MinIO для операций с аватарами.
type AvatarsStorage struct {
	cfg    config.S3Config
	client *mclient.Client
}

// New создаёт клиент MinIO, подбирает Secure по схеме endpoint
// и проверяет, что бакет существует.
func New(ctx context.Context, cfg config.S3Config) (*AvatarsStorage, error) {
	const op = "storage/minio/New"

	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.RootUser, cfg.RootPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	return &AvatarsStorage{cfg: cfg, client: client}, nil
}

var _ storage.AvatarStorage = (*AvatarsStorage)(nil)
