package models

import "time"

// Message is a chat message. Room and author never change after creation;
// CreatedAt is assigned by the database and is authoritative.
type Message struct {
	ID        int        `db:"id" json:"id"`
	RoomID    int        `db:"room_id" json:"room_id"`
	UserID    int        `db:"user_id" json:"user_id"`
	ParentID  *int       `db:"parent_id" json:"parent_id"`
	Content   string     `db:"content" json:"content"`
	FileURL   *string    `db:"file_url" json:"file_url"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	EditedAt  *time.Time `db:"edited_at" json:"edited_at"`
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
}

// MessageWithAuthor joins a message with its author's username for
// history responses.
type MessageWithAuthor struct {
	Message
	Username string `db:"username" json:"username"`
}

// MessageReaction is a (message, user, emoji) triple, unique per triple.
type MessageReaction struct {
	ID        int       `db:"id" json:"id"`
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReadReceipt is a (message, user) pair, unique per pair.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
