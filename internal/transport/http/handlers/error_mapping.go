package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	applogger "github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
)

// ErrorCase maps a sentinel error to a status and client message. With
// Detail set the message is taken from the wrapped error instead.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
	Detail  bool
}

func (cs ErrorCase) message(err error) string {
	if !cs.Detail {
		return cs.Message
	}
	// Wrapped validation errors read "<sentinel>: <detail>"; clients only see the detail.
	if rest, ok := strings.CutPrefix(err.Error(), cs.Err.Error()+": "); ok {
		return rest
	}
	return err.Error()
}

// matchError reports the first case whose sentinel err wraps.
func matchError(err error, cases []ErrorCase) (ErrorCase, bool) {
	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			return cs, true
		}
	}
	return ErrorCase{}, false
}

// RespondWithMappedError writes the matching case or the fallback.
// It reports whether err was one of the expected cases.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) bool {
	if cs, ok := matchError(err, cases); ok {
		c.JSON(cs.Status, NewErrorResponse(c, cs.message(err)))
		return true
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
	return false
}

// respondAndLog writes the mapped response, logging expected cases at warn
// and everything else at error.
func respondAndLog(c *gin.Context, log *zap.Logger, msg string, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string, fields ...zap.Field) {
	log = applogger.WithContext(c.Request.Context(), log)
	fields = append(fields, zap.Error(err))
	if RespondWithMappedError(c, err, cases, fallbackStatus, fallbackMessage) {
		log.Warn(msg, fields...)
		return
	}
	log.Error(msg, fields...)
}
