package auth

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

func TestParseToken(t *testing.T) {
	a := NewAuthenticator("secret")

	token, err := a.Sign("user-1", "buyer@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "buyer@example.com", claims.Email)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestParseRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator("secret")

	expired, err := a.Sign("user-1", "", RoleCustomer, -time.Minute)
	require.NoError(t, err)
	_, err = a.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewAuthenticator("other").Sign("user-1", "", RoleCustomer, time.Hour)
	require.NoError(t, err)
	_, err = a.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRolePolicies(t *testing.T) {
	authz, err := NewAuthorizer()
	require.NoError(t, err)

	tests := []struct {
		role    string
		path    string
		method  string
		allowed bool
	}{
		{RoleCustomer, "/api/v1/orders", "POST", true},
		{RoleCustomer, "/api/v1/orders/0b6f/payments", "POST", true},
		{RoleCustomer, "/api/v1/cart/items/3", "DELETE", true},
		{RoleCustomer, "/api/v1/orders/admin/all", "GET", false},
		{RoleCustomer, "/api/v1/orders/0b6f/status", "PUT", false},
		{RoleCustomer, "/api/v1/admin/callbacks", "GET", false},
		{RoleAdmin, "/api/v1/admin/callbacks/01J/replay", "POST", true},
		{RoleAdmin, "/api/v1/orders/0b6f/status", "PUT", true},
		{RoleAdmin, "/api/v1/orders", "GET", true},
	}
	for _, tt := range tests {
		allowed, err := authz.Allowed(tt.role, tt.path, tt.method)
		require.NoError(t, err)
		assert.Equal(t, tt.allowed, allowed, "%s %s %s", tt.role, tt.method, tt.path)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	authn := NewAuthenticator("secret")
	authz, err := NewAuthorizer()
	require.NoError(t, err)

	r := gin.New()
	r.Use(authn.Middleware(), authz.Middleware())
	r.GET("/api/v1/orders", func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.UserID)
	})
	r.GET("/api/v1/admin/orders", func(c *gin.Context) { c.Status(http.StatusOK) })

	customerToken, err := authn.Sign("user-1", "", RoleCustomer, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"no token", "/api/v1/orders", "", http.StatusUnauthorized},
		{"garbage", "/api/v1/orders", "Bearer nope", http.StatusUnauthorized},
		{"customer", "/api/v1/orders", "Bearer " + customerToken, http.StatusOK},
		{"customer on admin route", "/api/v1/admin/orders", "Bearer " + customerToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
