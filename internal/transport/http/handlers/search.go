package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

// SearchUseCase is the search service as seen by the HTTP layer.
type SearchUseCase interface {
	Search(ctx context.Context, query string) ([]domain.SearchDocument, error)
}

// SearchHandler exposes /api/search.
type SearchHandler struct {
	search SearchUseCase
	logger *zap.Logger
}

func NewSearchHandler(search SearchUseCase, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{search: search, logger: logger}
}

func (h *SearchHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/posts", h.searchPosts)
}

var searchErrorCases = []ErrorCase{
	{Err: usecase.ErrEmptyQuery, Status: http.StatusBadRequest, Message: "Search query is required"},
}

// searchPosts answers with a bare JSON array, best match first.
func (h *SearchHandler) searchPosts(c *gin.Context) {
	results, err := h.search.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		respondAndLog(c, h.logger, "search failed", err, searchErrorCases, http.StatusInternalServerError, "Error while searching post")
		return
	}
	if results == nil {
		results = []domain.SearchDocument{}
	}
	c.JSON(http.StatusOK, results)
}
