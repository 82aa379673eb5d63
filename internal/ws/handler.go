package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"roomchat-service/internal/auth"
	"roomchat-service/internal/bus"
	"roomchat-service/internal/config"
	"roomchat-service/internal/middleware"
	"roomchat-service/internal/observability"
	"roomchat-service/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades room websocket connections and starts sessions.
type Handler struct {
	fabric      bus.Fabric
	gateway     Gateway
	authService *auth.Service
	emitter     *telemetry.SessionEmitter
	cfg         config.SessionConfig
}

// NewHandler constructs a Handler.
func NewHandler(fabric bus.Fabric, gateway Gateway, authService *auth.Service, emitter *telemetry.SessionEmitter, cfg config.SessionConfig) *Handler {
	return &Handler{
		fabric:      fabric,
		gateway:     gateway,
		authService: authService,
		emitter:     emitter,
		cfg:         cfg,
	}
}

// Handle authenticates the handshake, resolves the room, upgrades the
// connection and hands it to a session. An unauthenticated handshake is
// refused before the upgrade.
func (h *Handler) Handle(c *gin.Context) {
	roomName := c.Param("room_name")

	ctx, span := otel.Tracer("roomchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := middleware.TokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}
	identity, err := h.authService.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	room, err := h.gateway.Rooms.GetOrCreateRoom(ctx, roomName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve room"})
		return
	}
	if _, err := h.gateway.Users.EnsureUser(ctx, identity.UserID, identity.Username); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve user"})
		return
	}
	if err := h.gateway.Rooms.AddMember(ctx, room.ID, identity.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		Username:    identity.Username,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	session := NewSession(conn, h.fabric, h.gateway, h.emitter, h.cfg, room, identity, info)
	go session.Run()
}
