package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
)

// ErrorResponse represents a failed request with the trace ID for debugging.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Message: message,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple acknowledgement.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreatePostRequest is the payload of POST /api/posts/create-post.
type CreatePostRequest struct {
	Content  string   `json:"content"`
	MediaIDs []string `json:"mediaIds"`
}

type CreatePostResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PostID  string `json:"postId"`
}

type UploadResponse struct {
	Success bool   `json:"success"`
	MediaID string `json:"mediaId"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type MediaListResponse struct {
	Results []domain.Media `json:"results"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// RefreshTokenRequest carries the opaque refresh token for refresh and logout.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// HealthResponse describes liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the outcome of every dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
