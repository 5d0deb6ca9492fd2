package port

import (
	"context"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

// PostRepository persists posts for the post service.
type PostRepository interface {
	Create(ctx context.Context, post domain.Post) error
	GetByID(ctx context.Context, id string) (*domain.Post, error)
	List(ctx context.Context, offset, limit int) ([]domain.Post, error)
	Count(ctx context.Context) (int, error)
	// DeleteOwned removes the post only when it belongs to userID and
	// returns the removed row.
	DeleteOwned(ctx context.Context, id, userID string) (*domain.Post, error)
}
