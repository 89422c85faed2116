package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/middleware"
	"github.com/noah-isme/xp-ledger/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return claims
}

// queryInt parses an integer query parameter, returning fallback when absent or malformed.
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// withMeta returns the per-request response metadata, if any, for the envelope.
func withMeta(c *gin.Context) []map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if len(meta) == 0 {
		return nil
	}
	return []map[string]interface{}{meta}
}
