package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// ErrorBody is the JSON shape every failing endpoint returns.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorHandler renders errors attached via c.Error into the stable error
// envelope. AppErrors keep their code and HTTP status; anything else becomes
// an opaque INTERNAL_ERROR so storage details never leak to callers.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr, ok := models.AsAppError(err); ok {
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				log.Error("request failed", "path", c.FullPath(), "code", appErr.Code, "error", err)
			}
			c.JSON(appErr.HTTPStatus, ErrorBody{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			})
			return
		}

		log.Error("unhandled request error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorBody{
			Code:    models.CodeInternal,
			Message: "internal error",
		})
	}
}
