package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type relayFixture struct {
	httpServer *httptest.Server
	auth       services.AuthService
	groups     *memory.MemoryGroupDirectory
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	users := memory.NewMemoryUserDirectory(true)
	groups := memory.NewMemoryGroupDirectory()
	messages := memory.NewMemoryMessageStore()

	rooms := NewRoomTable(zap.NewNop().Sugar())
	auth := services.NewAuthService(cfg.Auth.JWTSecret, users)
	presence := services.NewPresenceService(memory.NewMemoryPresenceRepository(), users, rooms)
	calls := services.NewCallService(memory.NewMemoryCallRepository(), groups, rooms, nil)

	server := NewServer(cfg, rooms, rooms, auth, presence, calls, groups, messages, nil)

	router := gin.New()
	router.GET("/ws", server.HandleWebSocket)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &relayFixture{httpServer: ts, auth: auth, groups: groups}
}

func (f *relayFixture) dial(t *testing.T, userID domain.UserID) *websocket.Conn {
	t.Helper()

	token, err := f.auth.GenerateToken(userID, string(userID), time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.httpServer.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))
}

// await reads frames until one matches the wanted event, skipping presence
// noise from other connections.
func await(t *testing.T, ws *websocket.Conn, event string) domain.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		var env domain.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("no %q frame within deadline", event)
	return domain.Envelope{}
}

func TestWebSocketRejectsUnauthenticated(t *testing.T) {
	f := newRelayFixture(t)

	url := "ws" + strings.TrimPrefix(f.httpServer.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDirectMessageDelivery(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	// The sender opens the chat; the recipient never does.
	send(t, alice, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.DirectRoom("bob")})

	payload := domain.ChatMessagePayload{Room: domain.DirectRoom("bob")}
	payload.Message.Content = "hello bob"
	send(t, alice, domain.EventChatMessage, payload)

	// The recipient gets the message through the personal room.
	env := await(t, bob, domain.EventChatMessage)
	var got domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, domain.UserID("alice"), got.SenderID)
	assert.Equal(t, domain.UserID("bob"), got.ReceiverID)
	assert.Equal(t, "hello bob", got.Content)
	assert.Equal(t, domain.MessageText, got.MessageType)

	// The sender's echo comes from the room subscription and carries the
	// same persisted id.
	env = await(t, alice, domain.EventChatMessage)
	var echo domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &echo))
	assert.Equal(t, got.ID, echo.ID)
}

func TestDirectMessageDualPathDuplicates(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	// A recipient subscribed to the open thread sits on both delivery
	// paths: the room broadcast and the personal-room fallback.
	send(t, bob, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.DirectRoom("bob")})

	// Bob's own note comes back through the room subscription, proving the
	// join took effect before alice sends. Both copies are drained.
	marker := domain.ChatMessagePayload{Room: domain.DirectRoom("bob")}
	marker.Message.Content = "note to self"
	send(t, bob, domain.EventChatMessage, marker)
	await(t, bob, domain.EventChatMessage)
	await(t, bob, domain.EventChatMessage)

	payload := domain.ChatMessagePayload{Room: domain.DirectRoom("bob")}
	payload.Message.Content = "hi"
	send(t, alice, domain.EventChatMessage, payload)

	first := await(t, bob, domain.EventChatMessage)
	second := await(t, bob, domain.EventChatMessage)

	var a, b domain.Message
	require.NoError(t, json.Unmarshal(first.Data, &a))
	require.NoError(t, json.Unmarshal(second.Data, &b))
	require.Equal(t, "hi", a.Content)
	assert.Equal(t, a.ID, b.ID)
}

func TestGroupChatRequiresMembership(t *testing.T) {
	f := newRelayFixture(t)
	f.groups.AddMember("g1", "alice")

	alice := f.dial(t, "alice")
	mallory := f.dial(t, "mallory")

	send(t, mallory, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.GroupRoom("g1")})
	env := await(t, mallory, domain.EventError)
	var perr domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &perr))
	assert.Equal(t, domain.ErrNotGroupMember.Error(), perr.Message)

	send(t, alice, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.GroupRoom("g1")})

	payload := domain.ChatMessagePayload{Room: domain.GroupRoom("g1")}
	payload.Message.Content = "team update"
	send(t, alice, domain.EventChatMessage, payload)

	// Only subscribers hear group traffic; the sender's own echo proves the
	// relay round-trip.
	env = await(t, alice, domain.EventChatMessage)
	var got domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "g1", got.GroupID)
	assert.Empty(t, got.ReceiverID)
}

func TestNonMemberCannotMessageGroup(t *testing.T) {
	f := newRelayFixture(t)
	f.groups.AddMember("g1", "alice")
	f.groups.AddMember("g1", "bob")

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")
	mallory := f.dial(t, "mallory")

	send(t, alice, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.GroupRoom("g1")})
	send(t, bob, domain.EventChatJoin, domain.ChatRoomPayload{Room: domain.GroupRoom("g1")})

	// Bob's own echo proves his subscription is live before anyone sends.
	marker := domain.ChatMessagePayload{Room: domain.GroupRoom("g1")}
	marker.Message.Content = "here"
	send(t, bob, domain.EventChatMessage, marker)
	await(t, bob, domain.EventChatMessage)

	// Membership is re-checked on every send, so a non-member's message is
	// refused even without a prior join attempt.
	payload := domain.ChatMessagePayload{Room: domain.GroupRoom("g1")}
	payload.Message.Content = "injected"
	send(t, mallory, domain.EventChatMessage, payload)

	env := await(t, mallory, domain.EventError)
	var perr domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &perr))
	assert.Equal(t, domain.ErrNotGroupMember.Error(), perr.Message)

	// The members see only legitimate traffic afterwards.
	legit := domain.ChatMessagePayload{Room: domain.GroupRoom("g1")}
	legit.Message.Content = "all clear"
	send(t, alice, domain.EventChatMessage, legit)

	env = await(t, bob, domain.EventChatMessage)
	var got domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, domain.UserID("alice"), got.SenderID)
	assert.Equal(t, "all clear", got.Content)
}

func TestTypingReachesUnjoinedDirectPeer(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	// Bob never opens the thread; the indicator arrives through his
	// personal room, same as message delivery.
	send(t, alice, domain.EventChatTyping, domain.TypingPayload{
		Room:     domain.DirectRoom("bob"),
		IsTyping: true,
	})

	env := await(t, bob, domain.EventChatTyping)
	var got domain.TypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, domain.UserID("alice"), got.UserID)
	assert.True(t, got.IsTyping)
}

func TestCallLifecycleOverWire(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, domain.EventCallInitiate, domain.CallInitiatePayload{
		Kind:         domain.CallVideo,
		TargetUserID: "bob",
	})

	// The caller gets an ack with the assigned id; the callee rings.
	ack := await(t, alice, domain.EventCallInitiated)
	var initiated domain.CallInitiatedPayload
	require.NoError(t, json.Unmarshal(ack.Data, &initiated))
	require.NotEmpty(t, initiated.CallID)

	ringing := await(t, bob, domain.EventCallIncoming)
	var session domain.CallSession
	require.NoError(t, json.Unmarshal(ringing.Data, &session))
	assert.Equal(t, initiated.CallID, session.ID)
	assert.Equal(t, domain.CallRinging, session.Status)
	assert.Equal(t, domain.UserID("alice"), session.CallerID)

	send(t, bob, domain.EventCallAccept, domain.CallRefPayload{CallID: session.ID})

	accepted := await(t, alice, domain.EventCallAccepted)
	var ref domain.CallRefPayload
	require.NoError(t, json.Unmarshal(accepted.Data, &ref))
	assert.Equal(t, session.ID, ref.CallID)
	await(t, bob, domain.EventCallAccepted)

	send(t, alice, domain.EventCallEnd, domain.CallRefPayload{CallID: session.ID})
	await(t, alice, domain.EventCallEnded)
	await(t, bob, domain.EventCallEnded)
}

func TestSignalRelayedVerbatim(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	signal := json.RawMessage(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`)
	send(t, alice, domain.EventWebRTCSignal, domain.SignalPayload{TargetID: "bob", Signal: signal})

	env := await(t, bob, domain.EventWebRTCSignal)
	var got domain.SignalPayload
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, domain.UserID("alice"), got.SenderID)
	assert.JSONEq(t, string(signal), string(got.Signal))
}

func TestUnknownEventReportsError(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	send(t, alice, "chat:shout", nil)

	env := await(t, alice, domain.EventError)
	var perr domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &perr))
	assert.Contains(t, perr.Message, "unknown event")
}

func TestDisconnectEndsTwoPartyCall(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, domain.EventCallInitiate, domain.CallInitiatePayload{
		Kind:         domain.CallAudio,
		TargetUserID: "bob",
	})
	ringing := await(t, bob, domain.EventCallIncoming)
	var session domain.CallSession
	require.NoError(t, json.Unmarshal(ringing.Data, &session))

	send(t, bob, domain.EventCallAccept, domain.CallRefPayload{CallID: session.ID})
	await(t, alice, domain.EventCallAccepted)

	// The caller's socket dies; the callee learns the call is over.
	alice.Close()
	await(t, bob, domain.EventCallEnded)
}
