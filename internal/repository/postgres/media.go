package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

var mediaColumns = []string{"id", "public_id", "original_name", "mime_type", "url", "user_id", "created_at"}

// MediaRepository implements port.MediaRepository.
type MediaRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewMediaRepository(exec pgExecutor) *MediaRepository {
	return &MediaRepository{exec: exec, builder: newBuilder()}
}

func (r *MediaRepository) Create(ctx context.Context, media domain.Media) error {
	stmt, args, err := r.builder.Insert("media").
		Columns(mediaColumns...).
		Values(media.ID, media.PublicID, media.OriginalName, media.MimeType, media.URL, media.UserID, media.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert media sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert media: %w", translate(err))
	}
	return nil
}

// List returns the newest media records.
func (r *MediaRepository) List(ctx context.Context, limit int) ([]domain.Media, error) {
	stmt, args, err := r.builder.Select(mediaColumns...).
		From("media").
		OrderBy("created_at DESC").
		Limit(uint64(max(limit, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list media sql: %w", err)
	}
	return r.query(ctx, stmt, args)
}

// GetByIDs loads the records among ids that exist. Ids that are not UUIDs
// cannot exist and are skipped.
func (r *MediaRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Media, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []domain.Media{}, nil
	}

	stmt, args, err := r.builder.Select(mediaColumns...).
		From("media").
		Where(squirrel.Eq{"id": valid}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select media sql: %w", err)
	}
	return r.query(ctx, stmt, args)
}

// Delete removes a record. Deleting a missing record is not an error.
func (r *MediaRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("media").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete media sql: %w", err)
	}
	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

func (r *MediaRepository) query(ctx context.Context, stmt string, args []any) ([]domain.Media, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Media, 0)
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

func scanMedia(row pgx.Row) (domain.Media, error) {
	var m domain.Media
	err := row.Scan(&m.ID, &m.PublicID, &m.OriginalName, &m.MimeType, &m.URL, &m.UserID, &m.CreatedAt)
	return m, err
}
