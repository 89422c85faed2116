package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// UserRepository reads the identity collaborator's user table.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, role, active, created_at FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify(fmt.Errorf("find user by id: %w", err))
	}
	return &user, nil
}

// Exists reports whether an active user with the identifier is known.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND active)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, classify(fmt.Errorf("check user exists: %w", err))
	}
	return exists, nil
}

// CanValidateXP reports whether the user is active and holds a reviewing role.
func (r *UserRepository) CanValidateXP(ctx context.Context, id string) (bool, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return user.Active && user.Role.CanValidateXP(), nil
}
