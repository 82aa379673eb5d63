package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"roomchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const pqForeignKeyViolation = "23503"

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID int, userID int, content string, parentID *int, fileURL *string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.MessageWithAuthor, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message. The parent, when given, must exist;
// a missing parent fails with ErrMessageNotFound before anything is
// written. The returned row carries the authoritative server timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID int, userID int, content string, parentID *int, fileURL *string) (models.Message, error) {
	if parentID != nil {
		if _, err := r.GetMessage(ctx, *parentID); err != nil {
			return models.Message{}, err
		}
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, user_id, parent_id, content, file_url)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, room_id, user_id, parent_id, content, file_url, created_at, edited_at, is_deleted`,
		roomID, userID, parentID, content, fileURL).
		Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.ParentID, &msg.Content, &msg.FileURL, &msg.CreatedAt, &msg.EditedAt, &msg.IsDeleted)
	if isPQCode(err, pqForeignKeyViolation) {
		// Parent deleted between the existence check and the insert.
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, room_id, user_id, parent_id, content, file_url, created_at, edited_at, is_deleted
        FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListRoomMessages returns the most recent messages of a room in
// timestamp-ascending order, soft-deleted rows excluded.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.MessageWithAuthor, error) {
	query := `SELECT m.id, m.room_id, m.user_id, m.parent_id, m.content, m.file_url, m.created_at, m.edited_at, m.is_deleted, u.username
        FROM (
            SELECT * FROM messages
            WHERE room_id=$1 AND is_deleted = FALSE
            ORDER BY created_at DESC
            LIMIT $2
        ) m
        JOIN users u ON u.id = m.user_id
        ORDER BY m.created_at ASC`
	var msgs []models.MessageWithAuthor
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}
