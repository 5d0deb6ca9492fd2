package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
)

// Logger emits one access log line per request with masked client addresses.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		reqLog := appLogger.WithContext(c.Request.Context(), log)
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}

		if userID := c.GetString(UserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}

		if len(c.Errors) > 0 {
			reqLog.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		if c.Writer.Status() >= 500 {
			reqLog.Warn("request completed with server error", fields...)
			return
		}

		reqLog.Info("request completed", fields...)
	}
}
