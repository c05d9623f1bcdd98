package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"habitora-core/internal/marketplace/config"
	"habitora-core/internal/marketplace/domain/client"
	apperrors "habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
)

// MinioMediaStore stores workflow attachments in an S3 compatible bucket and
// hands back the public URL recorded on status history entries.
type MinioMediaStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	log           logger.Logger
}

// NewMinioMediaStore builds an object storage client from the media settings.
// The connection is lazy: nothing is dialed until the first upload.
func NewMinioMediaStore(cfg config.MediaConfig, log logger.Logger) (*MinioMediaStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("media endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("media bucket cannot be empty")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioMediaStore{
		client:        minioClient,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBase,
		log:           log.WithComponent("media_store"),
	}, nil
}

var _ client.MediaClient = (*MinioMediaStore)(nil)

// EnsureBucket creates the configured bucket when it does not exist yet.
// Called once at startup.
func (s *MinioMediaStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}
	s.log.Info("Created media bucket", zap.String("bucket", s.bucket))
	return nil
}

// Upload streams one attachment into the bucket and returns its URL.
func (s *MinioMediaStore) Upload(ctx context.Context, upload client.MediaUpload) (string, error) {
	if upload.Reader == nil {
		return "", apperrors.NewValidationError("upload content cannot be empty")
	}

	key := ObjectKey(upload.Name)
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := upload.Size
	if size <= 0 {
		// Unknown length, let the client switch to multipart streaming.
		size = -1
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, upload.Reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.log.Error("Attachment upload failed",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Error(err))
		return "", apperrors.NewNetworkError("failed to store attachment").WithCause(err)
	}

	s.log.Debug("Attachment stored",
		zap.String("key", info.Key),
		zap.Int64("size", info.Size))
	return s.publicBaseURL + "/" + key, nil
}

// ObjectKey derives a collision free storage key from the client supplied
// file name. Keys are sharded by month so bucket listings stay navigable.
func ObjectKey(name string) string {
	base := sanitizeName(name)
	return fmt.Sprintf("attachments/%s/%s-%s",
		time.Now().UTC().Format("2006-01"), uuid.NewString(), base)
}

// sanitizeName strips path separators and whitespace so the client supplied
// name cannot escape the attachments prefix.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = "attachment"
	}
	return name
}
