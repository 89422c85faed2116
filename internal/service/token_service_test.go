package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
)

func signedClaims(userID string, role models.UserRole, ttl time.Duration) *models.JWTClaims {
	return &models.JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})
	token, err := svc.Sign(signedClaims("u1", models.RoleReviewer, time.Hour))
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleReviewer, claims.Role)
	assert.Equal(t, "identity", claims.Issuer)
}

func TestTokenServiceRejects(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})

	expired, err := svc.Sign(signedClaims("u1", models.RoleMember, -time.Minute))
	require.NoError(t, err)

	otherKey, err := NewTokenService(TokenConfig{Secret: "other", Issuer: "identity"}).Sign(signedClaims("u1", models.RoleMember, time.Hour))
	require.NoError(t, err)

	otherIssuer, err := NewTokenService(TokenConfig{Secret: "secret", Issuer: "elsewhere"}).Sign(signedClaims("u1", models.RoleMember, time.Hour))
	require.NoError(t, err)

	noSubject, err := svc.Sign(signedClaims("", models.RoleMember, time.Hour))
	require.NoError(t, err)

	badRole, err := svc.Sign(signedClaims("u1", "ROOT", time.Hour))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"unknown role": badRole,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
		})
	}
}
