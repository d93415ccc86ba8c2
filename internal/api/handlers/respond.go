package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/authz-core/internal/api/middleware"
	"github.com/platformbuilds/authz-core/internal/models"
)

// fail hands the error to the error middleware for rendering.
func fail(c *gin.Context, err error) {
	c.Error(err)
}

func badRequest(c *gin.Context, err error) {
	fail(c, models.ErrValidationf(models.CodeInvalidRequest, "invalid request body: %v", err))
}

// actor returns the authenticated principal performing the request.
func actor(c *gin.Context) string {
	if auth, ok := middleware.AuthFrom(c); ok {
		return auth.ProfileID
	}
	return "system"
}

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit = intQuery(c, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset = intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(c *gin.Context, name string) *bool {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}

func timeQuery(c *gin.Context, name string) *time.Time {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// listEnvelope is the standard shape of paginated listings.
type listEnvelope struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
