package errorx

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders classified errors on gin responses
type ErrorHandler struct {
	logger *zap.Logger
}

func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger.Named("errorx")}
}

// HandleError aborts the request with the status derived from err.
// Internal errors hide their message from the caller.
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	kind := Kind(err)
	msg := err.Error()
	if kind == ErrInternal {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		msg = ErrInternal.Message
	} else {
		h.logger.Debug("request rejected",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", kind.Code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(kind.HTTPStatus, gin.H{"error": msg, "code": kind.Code})
}
