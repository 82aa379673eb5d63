package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat-service/internal/auth"
	"roomchat-service/internal/bus"
	"roomchat-service/internal/config"
	"roomchat-service/internal/models"
	"roomchat-service/internal/observability"
	"roomchat-service/internal/protocol"
	"roomchat-service/internal/repositories"
	"roomchat-service/internal/telemetry"
)

const dbTimeout = 10 * time.Second

// Gateway bundles the persistence interfaces a session writes through.
type Gateway struct {
	Rooms     repositories.RoomRepository
	Users     repositories.UserRepository
	Messages  repositories.MessageRepository
	Reactions repositories.ReactionRepository
	Typing    repositories.TypingRepository
	Presence  repositories.PresenceRepository
}

// Session bridges one websocket connection to the room's broadcast
// group. Inbound events are handled one at a time in arrival order, each
// persisted before its broadcast is published. Cleanup runs exactly once
// no matter which side tears the connection down.
type Session struct {
	conn     *websocket.Conn
	fabric   bus.Fabric
	gw       Gateway
	emitter  *telemetry.SessionEmitter
	cfg      config.SessionConfig
	room     models.Room
	group    string
	identity auth.Identity
	info     ConnInfo

	sub       *bus.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session for an upgraded connection.
func NewSession(conn *websocket.Conn, fabric bus.Fabric, gw Gateway, emitter *telemetry.SessionEmitter, cfg config.SessionConfig, room models.Room, identity auth.Identity, info ConnInfo) *Session {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	return &Session{
		conn:     conn,
		fabric:   fabric,
		gw:       gw,
		emitter:  emitter,
		cfg:      cfg,
		room:     room,
		group:    bus.GroupForRoom(room.Name),
		identity: identity,
		info:     info,
		done:     make(chan struct{}),
	}
}

// Run joins the room group, announces presence, and pumps the connection
// until it closes.
func (s *Session) Run() {
	s.sub = s.fabric.Join(s.group)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	s.emit("ws_connect", "")

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	if _, err := s.gw.Presence.SetUserOnline(ctx, s.identity.UserID, true); err != nil {
		log.Printf("mark online failed user=%d: %v", s.identity.UserID, err)
	}
	cancel()
	s.broadcast(protocol.UserStatusFrame{
		Type:   protocol.FrameUserStatus,
		UserID: s.identity.UserID,
		Status: protocol.StatusOnline,
	})

	go s.writeLoop()
	s.readLoop()
}

// readLoop processes inbound frames sequentially until the connection
// fails or a fatal storage error closes the session.
func (s *Session) readLoop() {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			reason := ""
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
				observability.IncWSEvent("ws_error")
			}
			s.Close(reason)
			return
		}

		if err := s.handleEvent(data); err != nil {
			log.Printf("session fatal error user=%d room=%s: %v", s.identity.UserID, s.room.Name, err)
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"), deadline)
			s.Close(err.Error())
			return
		}
	}
}

// handleEvent dispatches one inbound event. A nil return keeps the
// session alive; malformed, unknown, not-found and duplicate cases are
// all non-fatal. Only unexpected storage failures return an error.
func (s *Session) handleEvent(data []byte) error {
	evt, err := protocol.Decode(data)
	if err != nil {
		log.Printf("discarding malformed event user=%d room=%s: %v", s.identity.UserID, s.room.Name, err)
		observability.IncWSEvent("malformed")
		return nil
	}
	if err := evt.Validate(); err != nil {
		log.Printf("discarding invalid event user=%d room=%s: %v", s.identity.UserID, s.room.Name, err)
		observability.IncWSEvent("invalid")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	switch evt.Type {
	case protocol.EventMessage:
		return s.handleMessage(ctx, evt)
	case protocol.EventTyping:
		return s.handleTyping(ctx)
	case protocol.EventReaction:
		return s.handleReaction(ctx, evt)
	case protocol.EventReadReceipt:
		return s.handleReadReceipt(ctx, evt)
	default:
		// Unknown kinds are ignored for forward compatibility.
		return nil
	}
}

func (s *Session) handleMessage(ctx context.Context, evt protocol.ClientEvent) error {
	author, err := s.gw.Users.GetUserByUsername(ctx, evt.Username)
	if errors.Is(err, repositories.ErrUserNotFound) {
		log.Printf("dropping message event: author %q not found", evt.Username)
		return nil
	}
	if err != nil {
		return err
	}

	msg, err := s.gw.Messages.CreateMessage(ctx, s.room.ID, author.ID, evt.Message, evt.ParentID, evt.FileURL)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		log.Printf("dropping message event: parent %v not found", evt.ParentID)
		return nil
	}
	if err != nil {
		return err
	}

	observability.IncWSEvent(protocol.FrameChatMessage)
	s.broadcast(protocol.NewChatMessageFrame(msg, author.Username))
	return nil
}

func (s *Session) handleTyping(ctx context.Context) error {
	if _, err := s.gw.Typing.UpsertTypingStatus(ctx, s.room.ID, s.identity.UserID); err != nil {
		return err
	}

	observability.IncWSEvent(protocol.FrameTypingStatus)
	s.broadcast(protocol.TypingStatusFrame{
		Type:     protocol.FrameTypingStatus,
		UserID:   s.identity.UserID,
		Username: s.identity.Username,
	})
	return nil
}

func (s *Session) handleReaction(ctx context.Context, evt protocol.ClientEvent) error {
	_, err := s.gw.Reactions.CreateReaction(ctx, evt.MessageID, s.identity.UserID, evt.Emoji)
	if errors.Is(err, repositories.ErrDuplicateReaction) {
		// Benign duplicate; the broadcast is suppressed.
		observability.IncWSEvent("reaction_duplicate")
		return nil
	}
	if errors.Is(err, repositories.ErrMessageNotFound) {
		log.Printf("dropping reaction event: message %d not found", evt.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	observability.IncWSEvent(protocol.FrameMessageReaction)
	s.broadcast(protocol.MessageReactionFrame{
		Type:      protocol.FrameMessageReaction,
		MessageID: evt.MessageID,
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		Emoji:     evt.Emoji,
	})
	return nil
}

func (s *Session) handleReadReceipt(ctx context.Context, evt protocol.ClientEvent) error {
	_, err := s.gw.Reactions.CreateReadReceipt(ctx, evt.MessageID, s.identity.UserID)
	if errors.Is(err, repositories.ErrDuplicateReceipt) {
		observability.IncWSEvent("receipt_duplicate")
		return nil
	}
	if errors.Is(err, repositories.ErrMessageNotFound) {
		log.Printf("dropping read_receipt event: message %d not found", evt.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	observability.IncWSEvent(protocol.FrameReadReceipt)
	s.broadcast(protocol.ReadReceiptFrame{
		Type:      protocol.FrameReadReceipt,
		MessageID: evt.MessageID,
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
	})
	return nil
}

// writeLoop serializes fabric deliveries to the client verbatim and
// keeps the connection alive with pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case d := <-s.sub.Deliveries():
			if d.Expired(time.Now()) {
				observability.IncBusDropped("expired")
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, d.Payload); err != nil {
				log.Printf("websocket write error: %v", err)
				s.Close(err.Error())
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(err.Error())
				return
			}
		}
	}
}

// Close tears the session down: offline presence is persisted and
// broadcast, the group is left, the connection closed. Runs exactly once
// regardless of which path triggered it.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if _, err := s.gw.Presence.SetUserOnline(ctx, s.identity.UserID, false); err != nil {
			log.Printf("mark offline failed user=%d: %v", s.identity.UserID, err)
		}
		s.broadcast(protocol.UserStatusFrame{
			Type:   protocol.FrameUserStatus,
			UserID: s.identity.UserID,
			Status: protocol.StatusOffline,
		})

		s.fabric.Leave(s.group, s.sub)
		s.conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		s.emit("ws_disconnect", reason)
	})
}

func (s *Session) broadcast(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal broadcast frame: %v", err)
		return
	}
	s.fabric.Broadcast(s.group, payload)
}

func (s *Session) emit(event, reason string) {
	if s.emitter == nil {
		return
	}
	userID := s.identity.UserID
	s.emitter.Emit(context.Background(), s.info.RequestID, &userID, telemetry.SessionPayload{
		Room:       s.room.Name,
		Event:      event,
		ConnID:     s.info.ConnID,
		DurationMS: time.Since(s.info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	})
}
