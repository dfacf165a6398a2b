package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Auth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})
	r.GET("/open", OptionalAuth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c)})
	})
	return r
}

func signedToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func get(router *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	router := authRouter(testSecret)
	future := time.Now().Add(time.Hour)

	testCases := []struct {
		name     string
		bearer   string
		wantCode int
		wantBody string
	}{
		{
			name:     "valid token resolves the subject",
			bearer:   signedToken(t, testSecret, "alice", future),
			wantCode: http.StatusOK,
			wantBody: `{"user":"alice"}`,
		},
		{
			name:     "missing header",
			bearer:   "",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong signing key",
			bearer:   signedToken(t, "other-secret", "alice", future),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired token",
			bearer:   signedToken(t, testSecret, "alice", time.Now().Add(-time.Hour)),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "missing subject",
			bearer:   signedToken(t, testSecret, "", future),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "garbage token",
			bearer:   "not-a-jwt",
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(router, "/protected", tc.bearer)
			assert.Equal(t, tc.wantCode, w.Code)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	router := authRouter(testSecret)

	// No token: the request passes through unattributed.
	w := get(router, "/open", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":""}`, w.Body.String())

	// An invalid token does not block either.
	w = get(router, "/open", "not-a-jwt")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":""}`, w.Body.String())

	w = get(router, "/open", signedToken(t, testSecret, "bob", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"bob"}`, w.Body.String())
}

func TestAuthRejectsEmptySecret(t *testing.T) {
	router := authRouter("")

	w := get(router, "/protected", signedToken(t, "", "alice", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
