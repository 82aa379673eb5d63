package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"roomchat-service/internal/models"
)

// TypingRepository stores typing indicators. Rows are upserted on every
// typing event; staleness is cut off at read time via the since bound.
type TypingRepository interface {
	UpsertTypingStatus(ctx context.Context, roomID int, userID int) (models.TypingStatus, error)
	ListActiveTypists(ctx context.Context, roomID int, since time.Time) ([]models.Typist, error)
}

// TypingRepo is a sqlx implementation of TypingRepository.
type TypingRepo struct {
	db *sqlx.DB
}

// NewTypingRepo constructs a TypingRepo.
func NewTypingRepo(db *sqlx.DB) *TypingRepo {
	return &TypingRepo{db: db}
}

// UpsertTypingStatus creates or refreshes the (room, user) typing row.
func (r *TypingRepo) UpsertTypingStatus(ctx context.Context, roomID int, userID int) (models.TypingStatus, error) {
	var status models.TypingStatus
	err := r.db.QueryRowxContext(ctx, `INSERT INTO typing_statuses (room_id, user_id, updated_at) VALUES ($1, $2, NOW())
        ON CONFLICT (room_id, user_id) DO UPDATE SET updated_at = NOW()
        RETURNING room_id, user_id, updated_at`, roomID, userID).
		Scan(&status.RoomID, &status.UserID, &status.UpdatedAt)
	return status, err
}

// ListActiveTypists returns users whose typing row is fresher than since.
func (r *TypingRepo) ListActiveTypists(ctx context.Context, roomID int, since time.Time) ([]models.Typist, error) {
	query := `SELECT t.user_id, u.username, t.updated_at
        FROM typing_statuses t
        JOIN users u ON u.id = t.user_id
        WHERE t.room_id=$1 AND t.updated_at > $2
        ORDER BY t.updated_at DESC`
	var typists []models.Typist
	err := r.db.SelectContext(ctx, &typists, query, roomID, since)
	return typists, err
}
