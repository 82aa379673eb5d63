package models

import "time"

// Room is a named chat room. Rooms are created implicitly on first
// reference and membership only grows.
type Room struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TypingStatus records that a user was typing in a room as of UpdatedAt.
// Freshness is decided by the reader; rows are overwritten in place.
type TypingStatus struct {
	RoomID    int       `db:"room_id" json:"room_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Typist is the read-side view of a fresh typing row.
type Typist struct {
	UserID    int       `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
