package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/internal/services"
)

// RequirePermission guards an admin route behind a permission check against
// the engine itself. The check runs the same pipeline API callers use, so
// matrix, cache, and breaker behavior apply to the management surface too.
func RequirePermission(checks *services.CheckService, resource string, action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, ok := AuthFrom(c)
		if !ok {
			unauthorized(c, "missing identity")
			return
		}

		result, err := checks.Check(c.Request.Context(), &models.CheckRequest{
			UserProfileID: auth.ProfileID,
			Resource:      resource,
			Action:        action,
		})
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		if !result.IsAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    models.CodePermissionDenied,
				"message": "caller lacks " + models.PermissionKey(resource, action, ""),
			})
			return
		}
		c.Next()
	}
}
