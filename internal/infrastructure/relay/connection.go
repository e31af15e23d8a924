package relay

import (
	"encoding/json"
	"sync"
	"time"

	"huddle/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Connection is the server-side handle of one authenticated duplex
// connection. Outbound frames go through a buffered send channel drained by
// a single write pump, so fan-out never blocks on a slow client.
type Connection struct {
	ID     domain.ConnectionID
	UserID domain.UserID
	User   *domain.User

	ws   *websocket.Conn
	send chan []byte

	limiter *rate.Limiter // nil when message rate limiting is disabled
	onDrop  func()        // optional, invoked when a frame is dropped

	closeOnce sync.Once
	done      chan struct{}

	writeTimeout time.Duration
	pingInterval time.Duration

	logger *zap.SugaredLogger
}

func newConnection(
	id domain.ConnectionID,
	user *domain.User,
	ws *websocket.Conn,
	sendBuffer int,
	limiter *rate.Limiter,
	writeTimeout, pingInterval time.Duration,
	logger *zap.SugaredLogger,
) *Connection {
	return &Connection{
		ID:           id,
		UserID:       user.ID,
		User:         user,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		limiter:      limiter,
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Send queues an envelope for delivery. Fire-and-forget: if the client's
// send buffer is full the frame is dropped rather than blocking the sender.
func (c *Connection) Send(env domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Errorw("failed to encode envelope", "event", env.Event, "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		if c.onDrop != nil {
			c.onDrop()
		}
		c.logger.Warnw("send buffer full, dropping frame",
			"connection_id", c.ID, "user_id", c.UserID, "event", env.Event)
	}
}

// SendError reports a local failure back to this connection only.
func (c *Connection) SendError(message string) {
	env, err := domain.NewEnvelope(domain.EventError, domain.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	c.Send(env)
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings. It owns all writes.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close releases the connection exactly once.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
