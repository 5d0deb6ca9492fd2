package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

const searchResultLimit = 10

// ErrEmptyQuery indicates a search without terms.
var ErrEmptyQuery = errors.New("search query is required")

// SearchService answers full-text queries over the post projection.
type SearchService struct {
	docs   port.SearchRepository
	logger *zap.Logger
}

func NewSearchService(docs port.SearchRepository, logger *zap.Logger) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchService{docs: docs, logger: logger}
}

// Search returns at most ten documents, best match first.
func (s *SearchService) Search(ctx context.Context, query string) ([]domain.SearchDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	docs, err := s.docs.Search(ctx, query, searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return docs, nil
}
