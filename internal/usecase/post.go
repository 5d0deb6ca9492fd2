package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/cache"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

const (
	minPostLength    = 3
	maxPostLength    = 5000
	defaultPageLimit = 10
	maxPageLimit     = 100
)

var (
	// ErrPostNotFound is returned for missing posts and for posts the caller does not own.
	ErrPostNotFound = errors.New("post not found")
	// ErrInvalidPost indicates the post payload failed validation.
	ErrInvalidPost = errors.New("invalid post")
)

// PostCacheTTL holds the read-through lifetimes of post entries.
type PostCacheTTL struct {
	Post    time.Duration
	Listing time.Duration
}

// PostService owns posts, their cache entries and their lifecycle events.
type PostService struct {
	posts  port.PostRepository
	cache  port.CacheStore
	events port.EventPublisher
	ttl    PostCacheTTL
	logger *zap.Logger
	now    func() time.Time
}

func NewPostService(posts port.PostRepository, store port.CacheStore, events port.EventPublisher, ttl PostCacheTTL, logger *zap.Logger) *PostService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl.Post <= 0 {
		ttl.Post = time.Hour
	}
	if ttl.Listing <= 0 {
		ttl.Listing = 5 * time.Minute
	}
	return &PostService{
		posts:  posts,
		cache:  store,
		events: events,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// CreatePostInput is the caller-supplied part of a new post.
type CreatePostInput struct {
	UserID   string
	Content  string
	MediaIDs []string
}

// Create persists the post, announces it and drops stale cache entries
// before returning.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (domain.Post, error) {
	content := strings.TrimSpace(in.Content)
	if in.UserID == "" {
		return domain.Post{}, fmt.Errorf("%w: user is required", ErrInvalidPost)
	}
	if n := utf8.RuneCountInString(content); n < minPostLength || n > maxPostLength {
		return domain.Post{}, fmt.Errorf("%w: content must be between %d and %d characters", ErrInvalidPost, minPostLength, maxPostLength)
	}

	mediaIDs := make([]string, 0, len(in.MediaIDs))
	for _, id := range in.MediaIDs {
		if id = strings.TrimSpace(id); id != "" {
			mediaIDs = append(mediaIDs, id)
		}
	}

	now := s.now().UTC()
	post := domain.Post{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Content:   content,
		MediaIDs:  mediaIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return domain.Post{}, fmt.Errorf("create post: %w", err)
	}

	event := domain.PostCreatedEvent{
		EventID:   uuid.NewString(),
		PostID:    post.ID,
		UserID:    post.UserID,
		Content:   post.Content,
		CreatedAt: post.CreatedAt,
	}
	if err := s.events.PublishPostCreated(ctx, event); err != nil {
		logger.WithContext(ctx, s.logger).Error("failed to publish event, search index will miss the post",
			zap.String("event_id", event.EventID),
			zap.String("event_type", domain.RoutingKeyPostCreated),
			zap.String("post_id", post.ID),
			zap.String("user_id", post.UserID),
			zap.Time("created_at", post.CreatedAt),
			zap.Error(err),
		)
	}

	s.invalidate(ctx, post.ID)

	s.logger.Info("post created", zap.String("post_id", post.ID), zap.String("user_id", post.UserID))
	return post, nil
}

// List returns one newest-first page. Out-of-range arguments fall back to
// page 1 and the default limit.
func (s *PostService) List(ctx context.Context, page, limit int) (domain.PostPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)

	return cache.ReadThrough(ctx, s.cache, s.logger, cache.PostListKey(page, limit), s.ttl.Listing,
		func(ctx context.Context) (domain.PostPage, error) {
			posts, err := s.posts.List(ctx, (page-1)*limit, limit)
			if err != nil {
				return domain.PostPage{}, fmt.Errorf("list posts: %w", err)
			}
			total, err := s.posts.Count(ctx)
			if err != nil {
				return domain.PostPage{}, fmt.Errorf("count posts: %w", err)
			}
			return domain.PostPage{
				Posts:       posts,
				CurrentPage: page,
				TotalPages:  (total + limit - 1) / limit,
				TotalPosts:  total,
			}, nil
		})
}

// Get returns a post through the single-post cache.
func (s *PostService) Get(ctx context.Context, id string) (domain.Post, error) {
	return cache.ReadThrough(ctx, s.cache, s.logger, cache.PostKey(id), s.ttl.Post,
		func(ctx context.Context) (domain.Post, error) {
			post, err := s.posts.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Post{}, ErrPostNotFound
				}
				return domain.Post{}, fmt.Errorf("get post: %w", err)
			}
			return *post, nil
		})
}

// Delete removes a post owned by userID. A post owned by someone else is
// reported as not found.
func (s *PostService) Delete(ctx context.Context, id, userID string) error {
	post, err := s.posts.DeleteOwned(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPostNotFound
		}
		return fmt.Errorf("delete post: %w", err)
	}

	event := domain.PostDeletedEvent{
		EventID:  uuid.NewString(),
		PostID:   post.ID,
		UserID:   userID,
		MediaIDs: post.MediaIDs,
	}
	if err := s.events.PublishPostDeleted(ctx, event); err != nil {
		logger.WithContext(ctx, s.logger).Error("failed to publish event, media and search cleanup will not run",
			zap.String("event_id", event.EventID),
			zap.String("event_type", domain.RoutingKeyPostDeleted),
			zap.String("post_id", post.ID),
			zap.Strings("media_ids", post.MediaIDs),
			zap.Error(err),
		)
	}

	s.invalidate(ctx, post.ID)

	s.logger.Info("post deleted", zap.String("post_id", post.ID), zap.String("user_id", userID))
	return nil
}

func (s *PostService) invalidate(ctx context.Context, postID string) {
	if err := cache.InvalidatePost(ctx, s.cache, postID); err != nil {
		logger.WithContext(ctx, s.logger).Error("cache invalidation failed, reads may be stale until ttl",
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}
