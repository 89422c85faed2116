package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

// SelfParam names the route parameter compared against the caller for self access.
const SelfParam = "id"

// RBAC enforces role-based access control. The pseudo role SELF admits a caller whose id matches
// the :id route parameter.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		if a == "SELF" {
			allowSelf = true
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		if allowSelf {
			if targetID := c.Param(SelfParam); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrPermissionDenied)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// RequireReviewer admits roles allowed to decide XP requests.
func RequireReviewer() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RoleReviewer)
}
