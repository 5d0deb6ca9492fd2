package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

// PostUseCase is the post service as seen by the HTTP layer.
type PostUseCase interface {
	Create(ctx context.Context, in usecase.CreatePostInput) (domain.Post, error)
	List(ctx context.Context, page, limit int) (domain.PostPage, error)
	Get(ctx context.Context, id string) (domain.Post, error)
	Delete(ctx context.Context, id, userID string) error
}

// PostHandler exposes /api/posts.
type PostHandler struct {
	posts  PostUseCase
	logger *zap.Logger
}

func NewPostHandler(posts PostUseCase, logger *zap.Logger) *PostHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostHandler{posts: posts, logger: logger}
}

// RegisterRoutes binds post routes. The group is expected to require x-user-id.
func (h *PostHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/create-post", h.create)
	r.GET("/all-posts", h.list)
	r.GET("/:id", h.get)
	r.DELETE("/:id", h.delete)
}

var (
	postErrorCases = []ErrorCase{
		{Err: usecase.ErrPostNotFound, Status: http.StatusNotFound, Message: "Post Not Found"},
	}
	createPostErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidPost, Status: http.StatusBadRequest, Detail: true},
	}
)

// Create godoc
// @Summary Create a post
// @Tags Posts
// @Accept json
// @Produce json
// @Param request body CreatePostRequest true "Post payload"
// @Success 201 {object} CreatePostResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/posts/create-post [post]
func (h *PostHandler) create(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid post payload"))
		return
	}

	post, err := h.posts.Create(c.Request.Context(), usecase.CreatePostInput{
		UserID:   middleware.UserID(c),
		Content:  req.Content,
		MediaIDs: req.MediaIDs,
	})
	if err != nil {
		respondAndLog(c, h.logger, "create post failed", err, createPostErrorCases, http.StatusInternalServerError, "Error creating post")
		return
	}

	c.JSON(http.StatusCreated, CreatePostResponse{
		Success: true,
		Message: "Post Created Successfully",
		PostID:  post.ID,
	})
}

// List godoc
// @Summary List posts newest first
// @Tags Posts
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(10)
// @Success 200 {object} domain.PostPage
// @Failure 500 {object} ErrorResponse
// @Router /api/posts/all-posts [get]
func (h *PostHandler) list(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 10)

	result, err := h.posts.List(c.Request.Context(), page, limit)
	if err != nil {
		respondAndLog(c, h.logger, "list posts failed", err, nil, http.StatusInternalServerError, "Error fetching posts")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *PostHandler) get(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAndLog(c, h.logger, "get post failed", err, postErrorCases, http.StatusInternalServerError, "Error fetching post",
			zap.String("post_id", c.Param("id")))
		return
	}

	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) delete(c *gin.Context) {
	err := h.posts.Delete(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondAndLog(c, h.logger, "delete post failed", err, postErrorCases, http.StatusInternalServerError, "Error deleting post",
			zap.String("post_id", c.Param("id")))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Post Deleted Successfully"})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
