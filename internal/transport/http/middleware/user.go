package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserIDHeader carries the caller identity the gateway verified.
const UserIDHeader = "x-user-id"

// UserMessage is the {success, message} body the service APIs answer errors with.
type UserMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RequireUserHeader trusts the gateway-injected user id and rejects requests
// without one.
func RequireUserHeader(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			log.Warn("access attempted without user id",
				zap.String("path", c.Request.URL.Path),
				zap.String("trace_id", GetTraceID(c)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, UserMessage{
				Success: false,
				Message: "Authentication required",
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity set by RequireUserHeader.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
