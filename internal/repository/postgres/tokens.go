package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

// RefreshTokenRepository implements port.RefreshTokenRepository. Only token
// hashes are stored.
type RefreshTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewRefreshTokenRepository(exec pgExecutor) *RefreshTokenRepository {
	return &RefreshTokenRepository{exec: exec, builder: newBuilder()}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("refresh_tokens").
		Columns("id", "user_id", "token_hash", "expires_at", "created_at").
		Values(token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "token_hash", "expires_at", "created_at").
		From("refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var token domain.RefreshToken
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if translated := translate(err); errors.Is(translated, repository.ErrNotFound) {
			return nil, translated
		}
		return nil, fmt.Errorf("select refresh token: %w", err)
	}
	return &token, nil
}

// DeleteByHash reports whether a token was removed.
func (r *RefreshTokenRepository) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	stmt, args, err := r.builder.Delete("refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete refresh token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
