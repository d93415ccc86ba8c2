package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/authz-core/internal/config"
	"github.com/platformbuilds/authz-core/internal/models"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

func signToken(t *testing.T, secret string, claims gatewayClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(cfg, logger.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		auth, _ := AuthFrom(c)
		c.JSON(http.StatusOK, auth)
	})
	return r
}

func TestAuthRejectsMissingToken(t *testing.T) {
	r := authRouter(config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), models.CodeUnauthorized)
}

func TestAuthVerifiesSignatureWhenSecretSet(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "right-secret"}
	r := authRouter(cfg)

	claims := gatewayClaims{
		ProfileID:        "profile-1",
		Superadmin:       true,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "account-1"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "right-secret", claims))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "profile-1")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", claims))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthTrustsClaimsWithoutSecret(t *testing.T) {
	r := authRouter(config.AuthConfig{})

	claims := gatewayClaims{
		ProfileID:        "profile-2",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "account-2"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "any-key", claims))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "profile-2")
}

func TestAuthFallsBackToSubjectAsPrincipal(t *testing.T) {
	r := authRouter(config.AuthConfig{})

	claims := gatewayClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "account-3"}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "k", claims))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"profileId":"account-3"`)
}

func TestAuthRejectsTokenWithoutPrincipal(t *testing.T) {
	r := authRouter(config.AuthConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "k", gatewayClaims{}))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
