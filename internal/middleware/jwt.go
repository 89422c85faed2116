package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token issued by the identity provider.
func JWT(tokens tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// CurrentUser returns the claims attached by JWT.
func CurrentUser(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

type principalRegistry interface {
	SetUser(user models.User)
}

// RegisterPrincipal copies the authenticated principal into the in-process user directory. It is
// only mounted when the ledger runs on the memory store, where no identity table exists.
func RegisterPrincipal(registry principalRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := CurrentUser(c); ok {
			registry.SetUser(models.User{ID: claims.UserID, Role: claims.Role, Active: true})
		}
		c.Next()
	}
}
