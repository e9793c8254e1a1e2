package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/scalp-api/internal/auth"
)

const testSecret = "middleware-test-secret"

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	svc := auth.NewService(testSecret)
	svc.RegisterAPICredentials("trader-key", "trader-secret")
	svc.RegisterOwnerCredentials("owner-key", "owner-secret")
	return svc
}

func bearerToken(t *testing.T, svc *auth.Service, key, secret string) string {
	t.Helper()
	token, err := svc.GenerateToken(auth.Credentials{APIKey: key, APISecret: secret})
	require.NoError(t, err)
	return "Bearer " + token.Token
}

func testRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", JWTAuth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client_id": c.GetString("clientID")})
	})
	router.GET("/admin", OwnerAuth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client_id": c.GetString("clientID")})
	})
	return router
}

func request(router *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	router := testRouter(testSecret)

	assert.Equal(t, http.StatusUnauthorized, request(router, "/protected", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "/protected", "not-a-bearer-header").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "/protected", "Bearer not.a.token").Code)
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	svc := newAuthService(t)
	router := testRouter(testSecret)

	w := request(router, "/protected", bearerToken(t, svc, "trader-key", "trader-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trader-key")
}

func TestJWTAuthRejectsTokenSignedWithOtherSecret(t *testing.T) {
	svc := newAuthService(t)
	router := testRouter("a-different-secret")

	w := request(router, "/protected", bearerToken(t, svc, "trader-key", "trader-secret"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOwnerAuthGatesAdminRoutes(t *testing.T) {
	svc := newAuthService(t)
	router := testRouter(testSecret)

	// A valid trader token authenticates but lacks the owner claim.
	w := request(router, "/admin", bearerToken(t, svc, "trader-key", "trader-secret"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(router, "/admin", bearerToken(t, svc, "owner-key", "owner-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "owner-key")

	w = request(router, "/admin", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
