package port

import (
	"context"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

// SearchRepository stores the search projection keyed by post id.
type SearchRepository interface {
	Upsert(ctx context.Context, doc domain.SearchDocument) error
	DeleteByPostID(ctx context.Context, postID string) (bool, error)
	Search(ctx context.Context, query string, limit int) ([]domain.SearchDocument, error)
}
