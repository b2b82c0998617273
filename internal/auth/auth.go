// Package auth turns bearer tokens into caller identities and authorizes routes by role.
package auth

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	identityKey = "identity"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by access tokens. Subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens issued by the account service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Sign issues a token for the given identity.
func (a *Authenticator) Sign(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates the token and returns its claims.
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role == "" {
		claims.Role = RoleCustomer
	}
	return claims, nil
}

func bearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// Middleware rejects requests without a valid token and stores the caller identity.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		claims, err := a.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(identityKey, Identity{
			Identity: service.Identity{
				UserID: claims.Subject,
				Email:  claims.Email,
				Admin:  claims.Role == RoleAdmin,
			},
			Role: claims.Role,
		})
		c.Next()
	}
}

// Identity is the authenticated caller plus the role used for route authorization.
type Identity struct {
	service.Identity
	Role string
}

// IdentityFrom returns the identity stored by the authenticator middleware.
func IdentityFrom(c *gin.Context) (service.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	id, ok := v.(Identity)
	if !ok {
		return service.Identity{}, false
	}
	return id.Identity, true
}

// Authorizer checks role permissions on request paths.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	logger   *zap.Logger
}

func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, logger: util.GetLogger()}, nil
}

func role(name string) string {
	return "role:" + name
}

func seedPolicies(e *casbin.SyncedEnforcer) error {
	customer := role(RoleCustomer)
	adminRole := role(RoleAdmin)

	policies := [][]string{
		{customer, "/api/v1/orders", "GET"},
		{customer, "/api/v1/orders", "POST"},
		{customer, "/api/v1/orders/:id", "GET"},
		{customer, "/api/v1/orders/:id/payment-reference", "PUT"},
		{customer, "/api/v1/orders/:id/payments", "GET"},
		{customer, "/api/v1/orders/:id/payments", "POST"},
		{customer, "/api/v1/cart", "*"},
		{customer, "/api/v1/cart/*", "*"},

		{adminRole, "/api/v1/orders/admin/all", "GET"},
		{adminRole, "/api/v1/orders/:id/status", "PUT"},
		{adminRole, "/api/v1/admin/*", "*"},
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return err
	}
	_, err := e.AddGroupingPolicy(adminRole, customer)
	return err
}

// Allowed reports whether a caller with the given role may call method on path.
func (a *Authorizer) Allowed(roleName, path, method string) (bool, error) {
	return a.enforcer.Enforce(role(roleName), path, method)
}

// Middleware must run after the authenticator.
func (a *Authorizer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(identityKey)
		id, _ := v.(Identity)
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		allowed, err := a.Allowed(id.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			a.logger.Error("Authorization check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		if !allowed {
			a.logger.Warn("Access denied",
				zap.String("user_id", id.UserID),
				zap.String("role", id.Role),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}
