package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/monitoring"
	"huddle/pkg/config"
	rlog "huddle/pkg/logger"
	"huddle/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxMessageSize = 64 * 1024

// Server terminates websocket connections, authenticates them, and
// dispatches inbound envelopes to the chat and call services. One read
// goroutine and one write goroutine per connection.
type Server struct {
	cfg      *config.Config
	upgrader websocket.Upgrader

	rooms     *RoomTable
	broadcast ports.Broadcaster
	auth      services.AuthService
	presence  ports.PresenceService
	calls     ports.CallService
	groups    ports.GroupDirectory
	messages  ports.MessageStore

	metrics *monitoring.PrometheusCollector // optional
	logger  *zap.SugaredLogger
}

// NewServer wires the relay endpoint. broadcast carries chat deliveries;
// in multi-instance deployments it must be the bridged broadcaster, not the
// local table, or room traffic stays on one instance.
func NewServer(
	cfg *config.Config,
	rooms *RoomTable,
	broadcast ports.Broadcaster,
	auth services.AuthService,
	presence ports.PresenceService,
	calls ports.CallService,
	groups ports.GroupDirectory,
	messages ports.MessageStore,
	metrics *monitoring.PrometheusCollector,
) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms:     rooms,
		broadcast: broadcast,
		auth:      auth,
		presence:  presence,
		calls:     calls,
		groups:    groups,
		messages:  messages,
		metrics:   metrics,
		logger:    rlog.New(cfg.Logging.Level).Sugar(),
	}
}

// HandleWebSocket is the gin handler for the relay endpoint. The credential
// is verified before the upgrade so rejected clients get a plain 401
// instead of a closed socket.
func (s *Server) HandleWebSocket(c *gin.Context) {
	token := bearerToken(c)

	user, err := s.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		s.logger.Warnw("websocket authentication failed", "error", err, "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err, "user_id", user.ID)
		return
	}

	var limiter *rate.Limiter
	if s.cfg.RateLimiting.Enabled {
		limiter = rate.NewLimiter(
			rate.Limit(s.cfg.RateLimiting.WebSocket.MessagesPerSecond),
			s.cfg.RateLimiting.WebSocket.Burst,
		)
	}

	conn := newConnection(
		domain.ConnectionID(uuid.NewString()),
		user,
		ws,
		s.cfg.Relay.SendBuffer,
		limiter,
		s.cfg.Relay.WriteTimeout,
		s.cfg.Relay.PingInterval,
		s.logger,
	)
	if s.metrics != nil {
		conn.onDrop = s.metrics.RecordFrameDropped
	}

	s.rooms.Register(conn)
	if err := s.presence.Register(c.Request.Context(), user.ID, conn.ID); err != nil {
		s.logger.Errorw("failed to register presence", "user_id", user.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordConnectionOpened()
	}

	s.logger.Infow("connection established",
		"connection_id", conn.ID, "user_id", user.ID, "username", user.Username)

	go conn.writePump()
	s.readLoop(c.Request.Context(), conn)
}

// readLoop consumes inbound frames until the connection dies, then runs the
// disconnect cascade.
func (s *Server) readLoop(ctx context.Context, conn *Connection) {
	defer s.teardown(ctx, conn)

	maxSize := int64(defaultMaxMessageSize)
	if s.cfg.RateLimiting.Enabled && s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		maxSize = s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	conn.ws.SetReadLimit(maxSize)
	conn.ws.SetReadDeadline(time.Now().Add(s.cfg.Relay.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.Relay.PongTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("connection closed unexpectedly",
					"connection_id", conn.ID, "user_id", conn.UserID, "error", err)
			}
			return
		}

		if conn.limiter != nil && !conn.limiter.Allow() {
			conn.SendError("message rate limit exceeded")
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			conn.SendError("malformed envelope")
			continue
		}

		s.dispatch(ctx, conn, env)
	}
}

// teardown runs the disconnect cascade: presence, then active calls, then
// room subscriptions.
func (s *Server) teardown(ctx context.Context, conn *Connection) {
	if err := s.presence.Unregister(ctx, conn.UserID, conn.ID); err != nil {
		s.logger.Errorw("failed to unregister presence",
			"user_id", conn.UserID, "connection_id", conn.ID, "error", err)
	}
	s.calls.HandleDisconnect(ctx, conn.UserID)
	s.rooms.Unregister(conn.ID)
	if s.metrics != nil {
		s.metrics.RecordConnectionClosed()
	}

	s.logger.Infow("connection closed", "connection_id", conn.ID, "user_id", conn.UserID)
}

func (s *Server) dispatch(ctx context.Context, conn *Connection, env domain.Envelope) {
	ctx, span := tracing.TraceEvent(ctx, env.Event, string(conn.UserID))
	defer span.End()

	var err error

	switch env.Event {
	case domain.EventChatJoin:
		err = s.handleChatJoin(ctx, conn, env.Data)
	case domain.EventChatLeave:
		err = s.handleChatLeave(ctx, conn, env.Data)
	case domain.EventChatMessage:
		err = s.handleChatMessage(ctx, conn, env.Data)
	case domain.EventChatTyping:
		err = s.handleChatTyping(ctx, conn, env.Data)
	case domain.EventChatRead:
		err = s.handleChatRead(ctx, conn, env.Data)

	case domain.EventCallInitiate:
		err = s.handleCallInitiate(ctx, conn, env.Data)
	case domain.EventCallAccept:
		err = s.handleCallAccept(ctx, conn, env.Data)
	case domain.EventCallReject:
		err = s.handleCallReject(ctx, conn, env.Data)
	case domain.EventCallEnd:
		err = s.handleCallEnd(ctx, conn, env.Data)
	case domain.EventCallJoin:
		err = s.handleCallJoin(ctx, conn, env.Data)
	case domain.EventCallLeave:
		err = s.handleCallLeave(ctx, conn, env.Data)
	case domain.EventWebRTCSignal:
		err = s.handleSignal(ctx, conn, env.Data)
	case domain.EventMeetingStart:
		err = s.handleMeetingStart(ctx, conn, env.Data)

	case domain.EventUserStatus:
		err = s.handleUserStatus(ctx, conn, env.Data)

	default:
		s.logger.Debugw("unknown event", "event", env.Event, "connection_id", conn.ID)
		conn.SendError("unknown event: " + env.Event)
		return
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("event handling failed",
			"event", env.Event, "connection_id", conn.ID, "user_id", conn.UserID, "error", err)
		conn.SendError(clientMessage(err))
	}
}

// clientMessage maps an error to the text sent back to the client. Domain
// errors pass through; anything else is reported generically so internals
// never leak onto the wire.
func clientMessage(err error) string {
	for _, known := range []error{
		domain.ErrCallNotFound,
		domain.ErrMessageNotFound,
		domain.ErrCallEnded,
		domain.ErrCallNotRinging,
		domain.ErrNotParticipant,
		domain.ErrNotGroupMember,
		domain.ErrInvalidPayload,
		domain.ErrUserNotFound,
		domain.ErrNotConnected,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// HealthCheck reports liveness and the current connection count.
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": s.rooms.Count(),
	})
}
