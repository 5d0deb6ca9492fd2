package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

// MediaCleanup removes the media of deleted posts.
type MediaCleanup struct {
	media   port.MediaRepository
	objects port.ObjectStore
	logger  *zap.Logger
}

func NewMediaCleanup(media port.MediaRepository, objects port.ObjectStore, logger *zap.Logger) *MediaCleanup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaCleanup{media: media, objects: objects, logger: logger}
}

// HandlePostDeleted deletes each referenced object and then its record.
// Media owned by anyone other than the post's author is left alone.
// Per-item failures are logged and skipped; only a failure to load the
// records is returned, so the event is redelivered. Replays find nothing
// left to delete.
func (c *MediaCleanup) HandlePostDeleted(ctx context.Context, event domain.PostDeletedEvent) error {
	if len(event.MediaIDs) == 0 {
		return nil
	}

	records, err := c.media.GetByIDs(ctx, event.MediaIDs)
	if err != nil {
		return fmt.Errorf("load media for post %s: %w", event.PostID, err)
	}

	deleted := 0
	for _, m := range records {
		if m.UserID != event.UserID {
			c.logger.Warn("skipping media not owned by post author",
				zap.String("post_id", event.PostID),
				zap.String("media_id", m.ID),
				zap.String("user_id", event.UserID),
				zap.String("owner_id", m.UserID),
			)
			continue
		}
		if err := c.objects.Delete(ctx, m.PublicID); err != nil {
			c.logger.Error("failed to delete media object",
				zap.String("post_id", event.PostID),
				zap.String("media_id", m.ID),
				zap.String("public_id", m.PublicID),
				zap.Error(err),
			)
			continue
		}
		if err := c.media.Delete(ctx, m.ID); err != nil {
			c.logger.Error("failed to delete media record",
				zap.String("post_id", event.PostID),
				zap.String("media_id", m.ID),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}

	c.logger.Info("processed media cleanup",
		zap.String("post_id", event.PostID),
		zap.Int("requested", len(event.MediaIDs)),
		zap.Int("found", len(records)),
		zap.Int("deleted", deleted),
	)
	return nil
}
