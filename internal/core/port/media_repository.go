package port

import (
	"context"
	"io"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

// MediaRepository persists media records for the media service.
type MediaRepository interface {
	Create(ctx context.Context, media domain.Media) error
	List(ctx context.Context, limit int) ([]domain.Media, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Media, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStore holds media binaries.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
}
