package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomchat-service/internal/models"
	"roomchat-service/internal/repositories"
)

// RoomHandler serves the room REST surface: the room list, message
// history (the recovery path for messages that were persisted but whose
// broadcast a client missed) and fresh typing indicators.
type RoomHandler struct {
	roomRepo     repositories.RoomRepository
	messageRepo  repositories.MessageRepository
	typingRepo   repositories.TypingRepository
	historyLimit int
	typingTTL    time.Duration
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, typingRepo repositories.TypingRepository, historyLimit int, typingTTL time.Duration) *RoomHandler {
	return &RoomHandler{
		roomRepo:     roomRepo,
		messageRepo:  messageRepo,
		typingRepo:   typingRepo,
		historyLimit: historyLimit,
		typingTTL:    typingTTL,
	}
}

// ListRooms returns all rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomRepo.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoomMessages returns the room's recent history in timestamp order.
// Rooms are created implicitly on first reference, matching the
// websocket connect path.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	room, err := h.roomRepo.GetOrCreateRoom(c.Request.Context(), c.Param("room_name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve room"})
		return
	}

	msgs, err := h.messageRepo.ListRoomMessages(c.Request.Context(), room.ID, h.historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.MessageWithAuthor{}
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "messages": msgs})
}

// GetTypingStatus returns users whose typing row is fresher than the
// configured TTL. Stale rows stay in storage but never reach clients.
func (h *RoomHandler) GetTypingStatus(c *gin.Context) {
	room, err := h.roomRepo.GetOrCreateRoom(c.Request.Context(), c.Param("room_name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve room"})
		return
	}

	typists, err := h.typingRepo.ListActiveTypists(c.Request.Context(), room.ID, time.Now().Add(-h.typingTTL))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load typing status"})
		return
	}
	if typists == nil {
		typists = []models.Typist{}
	}
	c.JSON(http.StatusOK, gin.H{"typing": typists})
}
