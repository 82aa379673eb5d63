package ws_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomchat-service/internal/auth"
	"roomchat-service/internal/bus"
	"roomchat-service/internal/config"
	"roomchat-service/internal/mocks"
	"roomchat-service/internal/models"
	"roomchat-service/internal/protocol"
	"roomchat-service/internal/repositories"
	"roomchat-service/internal/ws"
)

var (
	alice = auth.Identity{UserID: 1, Username: "alice"}
	bob   = auth.Identity{UserID: 2, Username: "bob"}
	lobby = models.Room{ID: 10, Name: "lobby"}
)

type harness struct {
	fabric    *bus.LocalFabric
	rooms     *mocks.RoomRepositoryMock
	users     *mocks.UserRepositoryMock
	messages  *mocks.MessageRepositoryMock
	reactions *mocks.ReactionRepositoryMock
	typing    *mocks.TypingRepositoryMock
	presence  *mocks.PresenceRepositoryMock
	authSvc   *auth.Service
	srv       *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		fabric:    bus.NewLocalFabric(bus.Options{}),
		rooms:     new(mocks.RoomRepositoryMock),
		users:     new(mocks.UserRepositoryMock),
		messages:  new(mocks.MessageRepositoryMock),
		reactions: new(mocks.ReactionRepositoryMock),
		typing:    new(mocks.TypingRepositoryMock),
		presence:  new(mocks.PresenceRepositoryMock),
		authSvc:   auth.NewService([]byte("test-secret"), time.Hour),
	}

	gateway := ws.Gateway{
		Rooms:     h.rooms,
		Users:     h.users,
		Messages:  h.messages,
		Reactions: h.reactions,
		Typing:    h.typing,
		Presence:  h.presence,
	}
	handler := ws.NewHandler(h.fabric, gateway, h.authSvc, nil, config.SessionConfig{})

	router := gin.New()
	router.GET("/ws/chat/:room_name/", handler.Handle)
	h.srv = httptest.NewServer(router)
	t.Cleanup(h.srv.Close)
	return h
}

// expectJoin registers the handshake and presence expectations for one
// identity connecting to a room.
func (h *harness) expectJoin(id auth.Identity, room models.Room) {
	h.rooms.On("GetOrCreateRoom", mock.Anything, room.Name).Return(room, nil)
	h.users.On("EnsureUser", mock.Anything, id.UserID, id.Username).
		Return(models.User{ID: id.UserID, Username: id.Username}, nil)
	h.rooms.On("AddMember", mock.Anything, room.ID, id.UserID).Return(nil)
	h.presence.On("SetUserOnline", mock.Anything, id.UserID, true).
		Return(models.UserProfile{UserID: id.UserID, IsOnline: true}, nil)
	h.presence.On("SetUserOnline", mock.Anything, id.UserID, false).
		Return(models.UserProfile{UserID: id.UserID}, nil)
}

func (h *harness) wsURL(room string, id auth.Identity, t *testing.T) string {
	t.Helper()
	token, err := h.authSvc.GenerateToken(id)
	require.NoError(t, err)
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/chat/" + room + "/?token=" + token
}

func (h *harness) dial(t *testing.T, room string, id auth.Identity) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(room, id, t), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readUntil skips frames until one of the wanted type arrives. Presence
// frames from concurrent joins interleave freely, so tests filter.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return nil
}

func TestHandshakeRequiresToken(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/ws/chat/lobby/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp2, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/chat/lobby/?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp2)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestConnectAnnouncesOnlinePresence(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)

	conn := h.dial(t, "lobby", alice)

	frame := readUntil(t, conn, protocol.FrameUserStatus)
	assert.Equal(t, float64(alice.UserID), frame["user_id"])
	assert.Equal(t, protocol.StatusOnline, frame["status"])
}

func TestChatMessagePersistedThenBroadcast(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)

	created := time.Date(2026, 8, 28, 12, 0, 0, 123456789, time.UTC)
	h.users.On("GetUserByUsername", mock.Anything, "alice").
		Return(models.User{ID: alice.UserID, Username: "alice"}, nil)
	h.messages.On("CreateMessage", mock.Anything, lobby.ID, alice.UserID, "hello", (*int)(nil), (*string)(nil)).
		Return(models.Message{ID: 42, RoomID: lobby.ID, UserID: alice.UserID, Content: "hello", CreatedAt: created}, nil)

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	// No explicit type: bare message senders default to "message".
	send(t, conn, `{"message":"hello","username":"alice"}`)

	frame := readUntil(t, conn, protocol.FrameChatMessage)
	assert.Equal(t, "hello", frame["message"])
	assert.Equal(t, "alice", frame["username"])
	assert.Equal(t, float64(42), frame["message_id"])
	assert.Equal(t, protocol.FormatTimestamp(created), frame["timestamp"])

	h.messages.AssertExpectations(t)
}

func TestTypingBroadcast(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{RoomID: lobby.ID, UserID: alice.UserID, UpdatedAt: time.Now()}, nil)

	conn := h.dial(t, "lobby", alice)
	send(t, conn, `{"type":"typing"}`)

	frame := readUntil(t, conn, protocol.FrameTypingStatus)
	assert.Equal(t, float64(alice.UserID), frame["user_id"])
	assert.Equal(t, "alice", frame["username"])
}

func TestReactionBroadcast(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.reactions.On("CreateReaction", mock.Anything, 42, alice.UserID, "👍").
		Return(models.MessageReaction{ID: 1, MessageID: 42, UserID: alice.UserID, Emoji: "👍"}, nil)

	conn := h.dial(t, "lobby", alice)
	send(t, conn, `{"type":"reaction","message_id":42,"emoji":"👍"}`)

	frame := readUntil(t, conn, protocol.FrameMessageReaction)
	assert.Equal(t, float64(42), frame["message_id"])
	assert.Equal(t, "👍", frame["emoji"])
	assert.Equal(t, "alice", frame["username"])
}

func TestDuplicateReactionSuppressed(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.reactions.On("CreateReaction", mock.Anything, 42, alice.UserID, "👍").
		Return(models.MessageReaction{}, repositories.ErrDuplicateReaction)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, nil)

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	send(t, conn, `{"type":"reaction","message_id":42,"emoji":"👍"}`)
	// The follow-up typing event proves the session processed the
	// duplicate without broadcasting or closing.
	send(t, conn, `{"type":"typing"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameTypingStatus, frame["type"])
}

func TestReadReceiptBroadcastAndDuplicateSuppressed(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.reactions.On("CreateReadReceipt", mock.Anything, 42, alice.UserID).
		Return(models.ReadReceipt{MessageID: 42, UserID: alice.UserID}, nil).Once()
	h.reactions.On("CreateReadReceipt", mock.Anything, 42, alice.UserID).
		Return(models.ReadReceipt{}, repositories.ErrDuplicateReceipt)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, nil)

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	send(t, conn, `{"type":"read_receipt","message_id":42}`)
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameReadReceipt, frame["type"])
	assert.Equal(t, float64(42), frame["message_id"])

	send(t, conn, `{"type":"read_receipt","message_id":42}`)
	send(t, conn, `{"type":"typing"}`)
	frame = readFrame(t, conn)
	assert.Equal(t, protocol.FrameTypingStatus, frame["type"])
}

func TestReactionOnMissingMessageKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.reactions.On("CreateReaction", mock.Anything, 999, alice.UserID, "👍").
		Return(models.MessageReaction{}, repositories.ErrMessageNotFound)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, nil)

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	send(t, conn, `{"type":"reaction","message_id":999,"emoji":"👍"}`)
	send(t, conn, `{"type":"typing"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameTypingStatus, frame["type"])
}

func TestMalformedAndUnknownEventsIgnored(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, nil)

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	send(t, conn, `{this is not json`)
	send(t, conn, `{"type":"presence_probe"}`)
	send(t, conn, `{"type":"message"}`) // fails validation, no username or body
	send(t, conn, `{"type":"typing"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameTypingStatus, frame["type"])

	h.messages.AssertNotCalled(t, "CreateMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStorageErrorClosesSession(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, errors.New("connection refused"))

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)

	send(t, conn, `{"type":"typing"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var closeErr error
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}
	}
	assert.True(t, websocket.IsCloseError(closeErr, websocket.CloseInternalServerErr),
		"expected close 1011, got %v", closeErr)
}

func TestDisconnectCleanupRunsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	group := bus.GroupForRoom("lobby")

	h.rooms.On("GetOrCreateRoom", mock.Anything, "lobby").Return(lobby, nil)
	h.users.On("EnsureUser", mock.Anything, alice.UserID, alice.Username).
		Return(models.User{ID: alice.UserID, Username: alice.Username}, nil)
	h.rooms.On("AddMember", mock.Anything, lobby.ID, alice.UserID).Return(nil)
	h.presence.On("SetUserOnline", mock.Anything, alice.UserID, true).
		Return(models.UserProfile{}, nil).Once()
	h.presence.On("SetUserOnline", mock.Anything, alice.UserID, false).
		Return(models.UserProfile{}, nil).Once()

	conn := h.dial(t, "lobby", alice)
	readUntil(t, conn, protocol.FrameUserStatus)
	require.Eventually(t, func() bool { return h.fabric.GroupSize(group) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	conn.Close()

	require.Eventually(t, func() bool { return h.fabric.GroupSize(group) == 0 },
		2*time.Second, 10*time.Millisecond)
	h.presence.AssertExpectations(t)
}

func TestPeerSeesOfflinePresenceOnDisconnect(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.expectJoin(bob, lobby)

	aliceConn := h.dial(t, "lobby", alice)
	readUntil(t, aliceConn, protocol.FrameUserStatus)
	bobConn := h.dial(t, "lobby", bob)

	// Wait until alice observes bob online before dropping him.
	for {
		frame := readUntil(t, aliceConn, protocol.FrameUserStatus)
		if frame["user_id"] == float64(bob.UserID) && frame["status"] == protocol.StatusOnline {
			break
		}
	}

	require.NoError(t, bobConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	bobConn.Close()

	for {
		frame := readUntil(t, aliceConn, protocol.FrameUserStatus)
		if frame["user_id"] == float64(bob.UserID) {
			assert.Equal(t, protocol.StatusOffline, frame["status"])
			return
		}
	}
}

func TestBroadcastReachesAllRoomMembers(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.expectJoin(bob, lobby)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, alice.UserID).
		Return(models.TypingStatus{}, nil)

	aliceConn := h.dial(t, "lobby", alice)
	bobConn := h.dial(t, "lobby", bob)
	group := bus.GroupForRoom("lobby")
	require.Eventually(t, func() bool { return h.fabric.GroupSize(group) == 2 },
		2*time.Second, 10*time.Millisecond)

	send(t, aliceConn, `{"type":"typing"}`)

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		frame := readUntil(t, conn, protocol.FrameTypingStatus)
		assert.Equal(t, float64(alice.UserID), frame["user_id"])
	}
}

func TestConcurrentSendersBothDelivered(t *testing.T) {
	h := newHarness(t)
	h.expectJoin(alice, lobby)
	h.expectJoin(bob, lobby)
	h.typing.On("UpsertTypingStatus", mock.Anything, lobby.ID, mock.Anything).
		Return(models.TypingStatus{}, nil)

	aliceConn := h.dial(t, "lobby", alice)
	bobConn := h.dial(t, "lobby", bob)
	group := bus.GroupForRoom("lobby")
	require.Eventually(t, func() bool { return h.fabric.GroupSize(group) == 2 },
		2*time.Second, 10*time.Millisecond)

	send(t, aliceConn, `{"type":"typing"}`)
	send(t, bobConn, `{"type":"typing"}`)

	seen := map[float64]bool{}
	for len(seen) < 2 {
		frame := readUntil(t, aliceConn, protocol.FrameTypingStatus)
		seen[frame["user_id"].(float64)] = true
	}
	assert.True(t, seen[float64(alice.UserID)])
	assert.True(t, seen[float64(bob.UserID)])
}
