// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-server/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrResultExists    = errors.New("result already exists for session")
	ErrResultNotFound  = errors.New("result not found")
)

// UserRepository handles user data persistence. Account provisioning is
// the identity layer's job; Create exists for that layer and for tests.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create creates a new user with the given username.
func (r *UserRepository) Create(ctx context.Context, username string) (*model.User, error) {
	const query = `
		INSERT INTO users (username, xp, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		RETURNING id, username, xp, created_at, updated_at
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.XP,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	const query = `
		SELECT id, username, xp, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.XP,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// Exists checks if a user with the given id exists.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}

// AddXP adds experience points to a user's total and returns the updated
// user. Called by the ledger when an award is recorded.
func (r *UserRepository) AddXP(ctx context.Context, userID int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET xp = xp + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, username, xp, created_at, updated_at
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(
		&user.ID,
		&user.Username,
		&user.XP,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to add xp: %w", err)
	}

	return &user, nil
}
