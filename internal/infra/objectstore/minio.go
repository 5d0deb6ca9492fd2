// Package objectstore keeps media binaries in an S3-compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
)

// Store implements port.ObjectStore on MinIO or any S3 endpoint.
type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, cfg config.StorageSettings, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created object store bucket", zap.String("bucket", cfg.Bucket))
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Put uploads body under key and returns its public URL.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return PublicURL(s.baseURL, key), nil
}

// Delete removes key. Removing a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}

// PublicURL joins baseURL and an object key, escaping each key segment.
func PublicURL(baseURL, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(segments, "/")
}
