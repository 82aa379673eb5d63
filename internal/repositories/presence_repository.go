package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"roomchat-service/internal/models"
)

// PresenceRepository persists binary online/offline presence.
type PresenceRepository interface {
	SetUserOnline(ctx context.Context, userID int, online bool) (models.UserProfile, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// SetUserOnline upserts the user's profile, updating the online flag and
// last-seen timestamp.
func (r *PresenceRepo) SetUserOnline(ctx context.Context, userID int, online bool) (models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.QueryRowxContext(ctx, `INSERT INTO user_profiles (user_id, is_online, last_seen) VALUES ($1, $2, NOW())
        ON CONFLICT (user_id) DO UPDATE SET is_online = EXCLUDED.is_online, last_seen = NOW()
        RETURNING user_id, is_online, last_seen`, userID, online).
		Scan(&profile.UserID, &profile.IsOnline, &profile.LastSeen)
	return profile, err
}
