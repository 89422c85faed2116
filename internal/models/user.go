package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles recognised by the ledger.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleReviewer UserRole = "REVIEWER"
	RoleMember   UserRole = "MEMBER"
)

// CanValidateXP reports whether the role may decide XP requests.
func (r UserRole) CanValidateXP() bool {
	return r == RoleAdmin || r == RoleReviewer
}

// User is the ledger's view of an identity supplied by the identity collaborator.
type User struct {
	ID        string    `db:"id" json:"id"`
	Role      UserRole  `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// JWTClaims represents the access token payload minted by the identity provider.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
