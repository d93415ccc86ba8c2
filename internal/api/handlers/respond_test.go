package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/api/middleware"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestPaginationDefaultsAndBounds(t *testing.T) {
	c, _ := testContext("/x")
	limit, offset := pagination(c)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	c, _ = testContext("/x?limit=25&offset=100")
	limit, offset = pagination(c)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 100, offset)

	c, _ = testContext("/x?limit=10000&offset=-5")
	limit, offset = pagination(c)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}

func TestBoolQuery(t *testing.T) {
	c, _ := testContext("/x?active=true&broken=maybe")
	require.NotNil(t, boolQuery(c, "active"))
	assert.True(t, *boolQuery(c, "active"))
	assert.Nil(t, boolQuery(c, "broken"))
	assert.Nil(t, boolQuery(c, "absent"))
}

func TestTimeQuery(t *testing.T) {
	c, _ := testContext("/x?from=2026-08-01T00:00:00Z&bad=yesterday")
	from := timeQuery(c, "from")
	require.NotNil(t, from)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), from.UTC())
	assert.Nil(t, timeQuery(c, "bad"))
}

func TestActorFallsBackToSystem(t *testing.T) {
	c, _ := testContext("/x")
	assert.Equal(t, "system", actor(c))

	c.Set(middleware.AuthContextKey, &models.AuthContext{ProfileID: "profile-9"})
	assert.Equal(t, "profile-9", actor(c))
}

func TestBadRequestRendersValidationEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler(logger.NewNop()))
	r.POST("/echo", func(c *gin.Context) {
		var body struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusOK, body)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeInvalidRequest)
}
