package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	applogger "github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

// IdentityUseCase is the identity service as seen by the HTTP layer.
type IdentityUseCase interface {
	Register(ctx context.Context, in usecase.RegisterInput) (usecase.TokenPair, error)
	Login(ctx context.Context, email, password string) (usecase.TokenPair, error)
	Refresh(ctx context.Context, raw string) (usecase.TokenPair, error)
	Logout(ctx context.Context, raw string) error
}

// AuthHandler exposes /api/auth.
type AuthHandler struct {
	identity IdentityUseCase
	logger   *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(identity IdentityUseCase, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{identity: identity, logger: logger}
}

// RegisterRoutes binds authentication routes, applying optional middleware
// ahead of the register handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, registerMiddlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, registerMiddlewares...)
	chain = append(chain, h.register)
	r.POST("/register", chain...)

	r.POST("/login", h.login)
	r.POST("/refresh-token", h.refresh)
	r.POST("/logout", h.logout)
}

var (
	registerErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidRegistration, Status: http.StatusBadRequest, Detail: true},
		{Err: usecase.ErrUserExists, Status: http.StatusBadRequest, Message: "User Already Exists"},
	}
	loginErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusBadRequest, Message: "Invalid Credentials"},
	}
	refreshErrorCases = []ErrorCase{
		{Err: usecase.ErrRefreshTokenRequired, Status: http.StatusBadRequest, Message: "Refresh Token Missing"},
		{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "Invalid or Expired Refresh Token"},
	}
)

// Register godoc
// @Summary Register a new user account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	pair, err := h.identity.Register(c.Request.Context(), usecase.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondAndLog(c, h.logger, "registration failed", err, registerErrorCases, http.StatusInternalServerError, "Internal Server Error",
			zap.String("email", applogger.MaskEmail(req.Email)))
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Success:      true,
		Message:      "User Registered Successfully",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Login godoc
// @Summary Authenticate with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	pair, err := h.identity.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		respondAndLog(c, h.logger, "login failed", err, loginErrorCases, http.StatusInternalServerError, "Internal Server Error",
			zap.String("email", applogger.MaskEmail(req.Email)))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		UserID:       pair.UserID,
	})
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshTokenRequest true "Refresh request"
// @Success 200 {object} RefreshTokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/auth/refresh-token [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshTokenRequest
	// An unreadable body is treated as a missing token.
	_ = c.ShouldBindJSON(&req)

	pair, err := h.identity.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondAndLog(c, h.logger, "refresh failed", err, refreshErrorCases, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	var req RefreshTokenRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.identity.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondAndLog(c, h.logger, "logout failed", err, refreshErrorCases, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Logged Out Successfully!"})
}
