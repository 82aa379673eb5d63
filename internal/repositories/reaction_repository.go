package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"roomchat-service/internal/models"
)

var (
	ErrDuplicateReaction = errors.New("reaction already exists")
	ErrDuplicateReceipt  = errors.New("read receipt already exists")
)

// ReactionRepository stores reactions and read receipts. Both are
// insert-only; duplicates surface as sentinel errors the caller treats
// as benign.
type ReactionRepository interface {
	CreateReaction(ctx context.Context, messageID int, userID int, emoji string) (models.MessageReaction, error)
	CreateReadReceipt(ctx context.Context, messageID int, userID int) (models.ReadReceipt, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// CreateReaction inserts a (message, user, emoji) reaction. An existing
// triple yields ErrDuplicateReaction; a missing message yields
// ErrMessageNotFound.
func (r *ReactionRepo) CreateReaction(ctx context.Context, messageID int, userID int, emoji string) (models.MessageReaction, error) {
	var reaction models.MessageReaction
	err := r.db.QueryRowxContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id, emoji) DO NOTHING
        RETURNING id, message_id, user_id, emoji, created_at`, messageID, userID, emoji).
		Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageReaction{}, ErrDuplicateReaction
	}
	if isPQCode(err, pqForeignKeyViolation) {
		return models.MessageReaction{}, ErrMessageNotFound
	}
	return reaction, err
}

// CreateReadReceipt inserts a (message, user) receipt. Re-reading an
// already-read message yields ErrDuplicateReceipt; the first-written
// timestamp wins.
func (r *ReactionRepo) CreateReadReceipt(ctx context.Context, messageID int, userID int) (models.ReadReceipt, error) {
	var receipt models.ReadReceipt
	err := r.db.QueryRowxContext(ctx, `INSERT INTO read_receipts (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO NOTHING
        RETURNING message_id, user_id, created_at`, messageID, userID).
		Scan(&receipt.MessageID, &receipt.UserID, &receipt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadReceipt{}, ErrDuplicateReceipt
	}
	if isPQCode(err, pqForeignKeyViolation) {
		return models.ReadReceipt{}, ErrMessageNotFound
	}
	return receipt, err
}
