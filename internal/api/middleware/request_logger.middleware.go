package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// RequestLogger logs one structured line per HTTP request. Level follows the
// response class so operator dashboards can filter on it.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		principal := "anonymous"
		if param.Keys != nil {
			if v, exists := param.Keys[AuthContextKey]; exists {
				if auth, ok := v.(*models.AuthContext); ok {
					principal = auth.ProfileID
				}
			}
		}

		fields := []interface{}{
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency", param.Latency,
			"client_ip", param.ClientIP,
			"principal", principal,
			"request_id", param.Request.Header.Get("X-Request-ID"),
		}
		if param.ErrorMessage != "" {
			fields = append(fields, "error", param.ErrorMessage)
		}

		switch {
		case param.StatusCode >= 500:
			log.Error("http request", fields...)
		case param.StatusCode >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
		return ""
	})
}
