package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"roomchat-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts the local mirror of upstream identities.
type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	EnsureUser(ctx context.Context, userID int, username string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUserByUsername resolves a user by username.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// EnsureUser mirrors an authenticated identity into the local users table.
// The auth service owns identity; this keeps the row current for joins.
func (r *UserRepo) EnsureUser(ctx context.Context, userID int, username string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (id, username) VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
        RETURNING id, username, created_at`, userID, username).
		Scan(&user.ID, &user.Username, &user.CreatedAt)
	return user, err
}
