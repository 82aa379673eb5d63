package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"roomchat-service/internal/models"
)

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	GetOrCreateRoom(ctx context.Context, name string) (models.Room, error)
	AddMember(ctx context.Context, roomID int, userID int) error
	ListRooms(ctx context.Context) ([]models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetOrCreateRoom returns the room with the given name, creating it on
// first reference. The insert-then-select pair is race-free: concurrent
// callers both land on the same row.
func (r *RoomRepo) GetOrCreateRoom(ctx context.Context, name string) (models.Room, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return models.Room{}, err
	}

	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, created_at FROM rooms WHERE name=$1`, name)
	return room, err
}

// AddMember records room membership. Membership grows monotonically;
// re-adding an existing member is a no-op.
func (r *RoomRepo) AddMember(ctx context.Context, roomID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// ListRooms returns all rooms ordered by name.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT id, name, created_at FROM rooms ORDER BY name ASC`)
	return rooms, err
}
