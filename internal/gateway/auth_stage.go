package gateway

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
)

// TokenVerifier validates an access token and returns its principal.
type TokenVerifier interface {
	Parse(raw string) (domain.Principal, error)
}

// AuthStage verifies bearer tokens on protected prefixes and owns the
// x-user-id header: a client can never supply it.
type AuthStage struct {
	verifier  TokenVerifier
	protected []string
	logger    *zap.Logger
}

func NewAuthStage(verifier TokenVerifier, protectedPrefixes []string, logger *zap.Logger) *AuthStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthStage{verifier: verifier, protected: protectedPrefixes, logger: logger}
}

func (s *AuthStage) Name() string { return "auth" }

func (s *AuthStage) Run(ex *Exchange) Result {
	ex.Request.Header.Del(middleware.UserIDHeader)

	if !s.isProtected(ex.Request.URL.Path) {
		return Continue()
	}

	raw, ok := bearerToken(ex.Request.Header.Get("Authorization"))
	if !ok {
		s.logger.Warn("access attempt without valid token",
			zap.String("path", ex.Request.URL.Path),
			zap.String("trace_id", ex.TraceID),
		)
		return Terminal(http.StatusUnauthorized, errorBody("Authentication required"))
	}

	principal, err := s.verifier.Parse(raw)
	if err != nil {
		s.logger.Warn("invalid access token",
			zap.String("path", ex.Request.URL.Path),
			zap.String("trace_id", ex.TraceID),
			zap.Error(err),
		)
		return Terminal(http.StatusUnauthorized, errorBody("Invalid or expired token"))
	}

	ex.Principal = &principal
	ex.Request.Header.Set(middleware.UserIDHeader, principal.UserID)
	return Continue()
}

func (s *AuthStage) isProtected(path string) bool {
	for _, prefix := range s.protected {
		if matchPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// matchPrefix matches whole path segments: /v1/posts matches /v1/posts and
// /v1/posts/1 but not /v1/postsx.
func matchPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/")
}
