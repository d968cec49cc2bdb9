package apperrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
)

// Envelope is the uniform JSON shape every HTTP error response uses.
type Envelope struct {
	Success bool           `json:"success"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Details string         `json:"details,omitempty"`
}

// RespondError writes err to the Gin response as an Envelope, choosing the
// HTTP status and code from err's *Error if present, or CodeInternal otherwise.
// Non-typed errors log their full message server-side but the client only
// ever sees the generic message for that code.
func RespondError(c *gin.Context, log *logger.Logger, err error) {
	appErr, ok := As(err)
	if !ok {
		if log != nil {
			log.Error("unhandled error", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, Envelope{
			Success: false,
			Code:    CodeInternal,
			Message: "internal error",
		})
		return
	}

	status := appErr.HTTPStatus()
	env := Envelope{
		Success: false,
		Code:    appErr.Code,
		Message: appErr.Message,
		Data:    appErr.Data,
	}
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", zap.Error(appErr), zap.String("code", string(appErr.Code)))
		}
	}
	c.JSON(status, env)
}
