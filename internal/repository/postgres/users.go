package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

var userColumns = []string{"id", "username", "email", "password_hash", "created_at"}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{exec: exec, builder: newBuilder()}
}

// Create inserts a new user row. Duplicate username or email yields
// repository.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert("users").
		Columns(userColumns...).
		Values(user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if translated := translate(err); errors.Is(translated, repository.ErrConflict) {
			return translated
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": email})
}

func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("users").
		Where(squirrel.Or{squirrel.Eq{"username": username}, squirrel.Eq{"email": email}}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build user exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From("users").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if translated := translate(err); errors.Is(translated, repository.ErrNotFound) {
			return nil, translated
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}
