package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

// SearchIndexer keeps the search projection in step with post events. Both
// handlers are idempotent.
type SearchIndexer struct {
	docs   port.SearchRepository
	logger *zap.Logger
}

func NewSearchIndexer(docs port.SearchRepository, logger *zap.Logger) *SearchIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchIndexer{docs: docs, logger: logger}
}

func (i *SearchIndexer) HandlePostCreated(ctx context.Context, event domain.PostCreatedEvent) error {
	if event.PostID == "" {
		return fmt.Errorf("post.created without postId")
	}

	doc := domain.SearchDocument{
		PostID:    event.PostID,
		UserID:    event.UserID,
		Content:   event.Content,
		CreatedAt: event.CreatedAt,
	}
	if err := i.docs.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("index post %s: %w", event.PostID, err)
	}

	i.logger.Info("indexed post", zap.String("post_id", event.PostID))
	return nil
}

func (i *SearchIndexer) HandlePostDeleted(ctx context.Context, event domain.PostDeletedEvent) error {
	if event.PostID == "" {
		return fmt.Errorf("post.deleted without postId")
	}

	removed, err := i.docs.DeleteByPostID(ctx, event.PostID)
	if err != nil {
		return fmt.Errorf("unindex post %s: %w", event.PostID, err)
	}

	if removed {
		i.logger.Info("removed post from index", zap.String("post_id", event.PostID))
	} else {
		i.logger.Debug("post already absent from index", zap.String("post_id", event.PostID))
	}
	return nil
}
