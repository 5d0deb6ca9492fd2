package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

const tsQuery = "plainto_tsquery('english', ?)"

// SearchRepository implements port.SearchRepository on a tsvector column.
type SearchRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewSearchRepository(exec pgExecutor) *SearchRepository {
	return &SearchRepository{exec: exec, builder: newBuilder()}
}

// Upsert writes the document keyed by post id, replacing any earlier copy.
func (r *SearchRepository) Upsert(ctx context.Context, doc domain.SearchDocument) error {
	stmt, args, err := r.builder.Insert("search_documents").
		Columns("post_id", "user_id", "content", "created_at").
		Values(doc.PostID, doc.UserID, doc.Content, doc.CreatedAt).
		Suffix("ON CONFLICT (post_id) DO UPDATE SET user_id = EXCLUDED.user_id, content = EXCLUDED.content, created_at = EXCLUDED.created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert search document sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert search document: %w", err)
	}
	return nil
}

// DeleteByPostID reports whether a document was removed.
func (r *SearchRepository) DeleteByPostID(ctx context.Context, postID string) (bool, error) {
	stmt, args, err := r.builder.Delete("search_documents").
		Where(squirrel.Eq{"post_id": postID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete search document sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete search document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Search ranks documents matching query by relevance.
func (r *SearchRepository) Search(ctx context.Context, query string, limit int) ([]domain.SearchDocument, error) {
	stmt, args, err := r.builder.Select("post_id", "user_id", "content", "created_at").
		From("search_documents").
		Where(squirrel.Expr("document @@ "+tsQuery, query)).
		OrderByClause("ts_rank(document, "+tsQuery+") DESC, created_at DESC", query).
		Limit(uint64(max(limit, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.SearchDocument, 0, limit)
	for rows.Next() {
		var doc domain.SearchDocument
		if err := rows.Scan(&doc.PostID, &doc.UserID, &doc.Content, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search documents: %w", err)
	}
	return docs, nil
}
