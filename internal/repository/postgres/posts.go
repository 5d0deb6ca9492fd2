package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

var postColumns = []string{"id", "user_id", "content", "media_ids", "created_at", "updated_at"}

// PostRepository implements port.PostRepository.
type PostRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewPostRepository(exec pgExecutor) *PostRepository {
	return &PostRepository{exec: exec, builder: newBuilder()}
}

func (r *PostRepository) Create(ctx context.Context, post domain.Post) error {
	mediaIDs := post.MediaIDs
	if mediaIDs == nil {
		mediaIDs = []string{}
	}

	stmt, args, err := r.builder.Insert("posts").
		Columns(postColumns...).
		Values(post.ID, post.UserID, post.Content, mediaIDs, post.CreatedAt, post.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert post sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert post: %w", translate(err))
	}
	return nil
}

func (r *PostRepository) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	stmt, args, err := r.builder.Select(postColumns...).
		From("posts").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select post sql: %w", err)
	}

	post, err := scanPost(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(translate(err), repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select post: %w", err)
	}
	return post, nil
}

// List returns posts newest first.
func (r *PostRepository) List(ctx context.Context, offset, limit int) ([]domain.Post, error) {
	stmt, args, err := r.builder.Select(postColumns...).
		From("posts").
		OrderBy("created_at DESC", "id DESC").
		Offset(uint64(max(offset, 0))).
		Limit(uint64(max(limit, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list posts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]domain.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (r *PostRepository) Count(ctx context.Context) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").From("posts").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count posts sql: %w", err)
	}

	var total int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return total, nil
}

// DeleteOwned removes the post only when userID owns it.
func (r *PostRepository) DeleteOwned(ctx context.Context, id, userID string) (*domain.Post, error) {
	stmt, args, err := r.builder.Delete("posts").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING id, user_id, content, media_ids, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete post sql: %w", err)
	}

	post, err := scanPost(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(translate(err), repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("delete post: %w", err)
	}
	return post, nil
}

func scanPost(row pgx.Row) (*domain.Post, error) {
	var post domain.Post
	if err := row.Scan(&post.ID, &post.UserID, &post.Content, &post.MediaIDs, &post.CreatedAt, &post.UpdatedAt); err != nil {
		return nil, err
	}
	if post.MediaIDs == nil {
		post.MediaIDs = []string{}
	}
	return &post, nil
}
