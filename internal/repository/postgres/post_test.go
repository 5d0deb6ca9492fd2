package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/repository"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPostRepository(mock)

	now := time.Now().UTC()
	post := domain.Post{ID: "post-1", UserID: "user-1", Content: "hello", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`INSERT INTO posts \(id,user_id,content,media_ids,created_at,updated_at\)`).
		WithArgs("post-1", "user-1", "hello", []string{}, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), post); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostRepository_GetByIDNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPostRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM posts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostRepository_ListNewestFirst(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPostRepository(mock)

	newer := time.Date(2025, 10, 12, 11, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	rows := pgxmock.NewRows(postColumns).
		AddRow("post-2", "user-1", "second", []string{"m-1"}, newer, newer).
		AddRow("post-1", "user-1", "first", []string{}, older, older)

	mock.ExpectQuery(`SELECT .* FROM posts ORDER BY created_at DESC, id DESC LIMIT 10 OFFSET 10`).
		WillReturnRows(rows)

	posts, err := repo.List(context.Background(), 10, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "post-2" || posts[1].ID != "post-1" {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if len(posts[0].MediaIDs) != 1 || posts[0].MediaIDs[0] != "m-1" {
		t.Fatalf("unexpected media ids %+v", posts[0].MediaIDs)
	}
}

func TestPostRepository_Count(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPostRepository(mock)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(23))

	total, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if total != 23 {
		t.Fatalf("expected 23, got %d", total)
	}
}

func TestPostRepository_DeleteOwned(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPostRepository(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`DELETE FROM posts WHERE id = \$1 AND user_id = \$2 RETURNING`).
		WithArgs("post-1", "user-1").
		WillReturnRows(pgxmock.NewRows(postColumns).AddRow("post-1", "user-1", "bye", []string{"m-1", "m-2"}, now, now))

	post, err := repo.DeleteOwned(context.Background(), "post-1", "user-1")
	if err != nil {
		t.Fatalf("DeleteOwned returned error: %v", err)
	}
	if len(post.MediaIDs) != 2 {
		t.Fatalf("expected deleted row with media ids, got %+v", post)
	}

	mock.ExpectQuery(`DELETE FROM posts WHERE id = \$1 AND user_id = \$2 RETURNING`).
		WithArgs("post-1", "intruder").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.DeleteOwned(context.Background(), "post-1", "intruder"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign post, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
