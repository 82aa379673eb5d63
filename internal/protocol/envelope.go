package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"roomchat-service/internal/models"
)

// Inbound event kinds accepted from clients.
const (
	EventMessage     = "message"
	EventTyping      = "typing"
	EventReaction    = "reaction"
	EventReadReceipt = "read_receipt"
)

// Outbound frame kinds broadcast to rooms.
const (
	FrameChatMessage     = "chat_message"
	FrameTypingStatus    = "typing_status"
	FrameMessageReaction = "message_reaction"
	FrameReadReceipt     = "read_receipt"
	FrameUserStatus      = "user_status"
)

// Presence values carried by user_status frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ClientEvent is the inbound envelope: minimal client intent, before the
// session enriches it with server-assigned ids and timestamps.
type ClientEvent struct {
	Type      string  `json:"type"`
	Message   string  `json:"message,omitempty"`
	Username  string  `json:"username,omitempty"`
	ParentID  *int    `json:"parent_id,omitempty"`
	FileURL   *string `json:"file_url,omitempty"`
	MessageID int     `json:"message_id,omitempty"`
	Emoji     string  `json:"emoji,omitempty"`
}

// Decode parses an inbound text frame. A missing type defaults to
// "message" for compatibility with bare message senders.
func Decode(data []byte) (ClientEvent, error) {
	var evt ClientEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ClientEvent{}, fmt.Errorf("decode client event: %w", err)
	}
	if evt.Type == "" {
		evt.Type = EventMessage
	}
	return evt, nil
}

// Validate checks per-kind required fields. Unknown kinds validate clean;
// the session ignores them for forward compatibility.
func (e ClientEvent) Validate() error {
	switch e.Type {
	case EventMessage:
		if e.Message == "" {
			return fmt.Errorf("%s event: missing message", e.Type)
		}
		if e.Username == "" {
			return fmt.Errorf("%s event: missing username", e.Type)
		}
	case EventReaction:
		if e.MessageID == 0 {
			return fmt.Errorf("%s event: missing message_id", e.Type)
		}
		if e.Emoji == "" {
			return fmt.Errorf("%s event: missing emoji", e.Type)
		}
	case EventReadReceipt:
		if e.MessageID == 0 {
			return fmt.Errorf("%s event: missing message_id", e.Type)
		}
	case EventTyping:
		// No payload beyond the implicit sender.
	}
	return nil
}

// ChatMessageFrame is the enriched broadcast for a stored message.
type ChatMessageFrame struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Username  string  `json:"username"`
	MessageID int     `json:"message_id"`
	ParentID  *int    `json:"parent_id"`
	FileURL   *string `json:"file_url"`
	Timestamp string  `json:"timestamp"`
}

// TypingStatusFrame announces that a user is typing.
type TypingStatusFrame struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// MessageReactionFrame announces a stored reaction.
type MessageReactionFrame struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
}

// ReadReceiptFrame announces a stored read receipt.
type ReadReceiptFrame struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
}

// UserStatusFrame announces binary presence.
type UserStatusFrame struct {
	Type   string `json:"type"`
	UserID int    `json:"user_id"`
	Status string `json:"status"`
}

// NewChatMessageFrame builds the broadcast frame for a persisted message.
// The timestamp comes from the stored row, never from client input.
func NewChatMessageFrame(msg models.Message, username string) ChatMessageFrame {
	return ChatMessageFrame{
		Type:      FrameChatMessage,
		Message:   msg.Content,
		Username:  username,
		MessageID: msg.ID,
		ParentID:  msg.ParentID,
		FileURL:   msg.FileURL,
		Timestamp: FormatTimestamp(msg.CreatedAt),
	}
}

// FormatTimestamp renders the wire timestamp: ISO 8601, UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
