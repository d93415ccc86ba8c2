package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func errorRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger.NewNop()))
	r.GET("/missing", func(c *gin.Context) {
		c.Error(models.ErrNotFoundf(models.CodePermissionNotFound, "permission %q not found", "p1"))
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("pq: connection refused"))
	})
	r.GET("/conflict", func(c *gin.Context) {
		c.Error(models.ErrConflictf(models.CodeRoleInUse, "role has active assignments").
			WithDetails(map[string]int{"assignments": 3}))
	})
	return r
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	r := errorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), models.CodePermissionNotFound)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
	r := errorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeInternal)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestErrorHandlerCarriesDetails(t *testing.T) {
	r := errorRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conflict", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"assignments":3`)
}
