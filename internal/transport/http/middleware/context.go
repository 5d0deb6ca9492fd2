package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appLogger "github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
)

const (
	// TraceIDHeader carries the end-to-end id the gateway propagates to every service.
	TraceIDHeader = "X-Trace-ID"
	// RequestIDHeader identifies a single hop.
	RequestIDHeader = "X-Request-ID"
	// TraceIDKey is the gin context key for the trace id.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key for the authenticated user id.
	UserIDKey = "user_id"
)

// EnrichContext adopts the inbound trace id or mints one, echoes it on the
// response and stores it on both the gin and the request context.
func EnrichContext() gin.HandlerFunc {
	return correlate(TraceIDHeader, func(c *gin.Context, id string) context.Context {
		c.Set(TraceIDKey, id)
		return appLogger.ContextWithTraceID(c.Request.Context(), id)
	})
}

// RequestID does the same for the per-hop request id.
func RequestID() gin.HandlerFunc {
	return correlate(RequestIDHeader, func(c *gin.Context, id string) context.Context {
		return appLogger.ContextWithRequestID(c.Request.Context(), id)
	})
}

func correlate(header string, store func(*gin.Context, string) context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(header)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(header, id)
		c.Request = c.Request.WithContext(store(c, id))

		c.Next()
	}
}

// GetTraceID returns the trace id set by EnrichContext.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}
