package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"huddle/internal/core/domain"
	rlog "huddle/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// CallEvents is the slice of the call machine the transport feeds.
type CallEvents interface {
	HandleInitiated(callID domain.CallID)
	HandleIncoming(session *domain.CallSession)
	HandleAccepted(callID domain.CallID)
	HandleJoined(session *domain.CallSession)
	HandleRejected(callID domain.CallID)
	HandleEnded(callID domain.CallID)
	HandleParticipantJoined(callID domain.CallID, userID domain.UserID)
	HandleParticipantLeft(callID domain.CallID, userID domain.UserID)
	HandleSignal(from domain.UserID, raw []byte)
}

// ChatEvents receives the chat-side events; any of the fields may be nil.
type ChatEvents struct {
	OnMessage     func(msg *domain.Message)
	OnTyping      func(p domain.TypingPayload)
	OnReadReceipt func(p domain.ReadReceiptPayload)
	OnMeeting     func(p domain.MeetingPayload)
	OnUserStatus  func(p domain.StatusPayload)
	OnError       func(message string)
}

// Client is the websocket connection to the relay. It implements
// call.Signaler and peer.SignalSender; inbound envelopes are dispatched to
// the call machine and the chat callbacks from a single read goroutine.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	calls CallEvents
	chat  ChatEvents

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

// Dial connects and authenticates against a relay endpoint such as
// "ws://host:8080/ws".
func Dial(ctx context.Context, endpoint, token string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay refused connection (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	return &Client{
		conn:   conn,
		done:   make(chan struct{}),
		logger: rlog.New("info").Sugar(),
	}, nil
}

// Bind installs the event sinks. Must be called before Run.
func (c *Client) Bind(calls CallEvents, chat ChatEvents) {
	c.calls = calls
	c.chat = chat
}

// Run reads envelopes until the connection closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return fmt.Errorf("relay connection lost: %w", err)
			}
		}
		c.dispatch(env)
	}
}

// Close terminates the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) emit(event string, payload interface{}) error {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// call.Signaler

func (c *Client) InitiateCall(payload domain.CallInitiatePayload) error {
	return c.emit(domain.EventCallInitiate, payload)
}

func (c *Client) AcceptCall(id domain.CallID) error {
	return c.emit(domain.EventCallAccept, domain.CallRefPayload{CallID: id})
}

func (c *Client) RejectCall(id domain.CallID) error {
	return c.emit(domain.EventCallReject, domain.CallRefPayload{CallID: id})
}

func (c *Client) EndCall(id domain.CallID) error {
	return c.emit(domain.EventCallEnd, domain.CallRefPayload{CallID: id})
}

func (c *Client) JoinCall(id domain.CallID) error {
	return c.emit(domain.EventCallJoin, domain.CallRefPayload{CallID: id})
}

func (c *Client) LeaveCall(id domain.CallID) error {
	return c.emit(domain.EventCallLeave, domain.CallRefPayload{CallID: id})
}

// peer.SignalSender

func (c *Client) SendSignal(target domain.UserID, signal json.RawMessage) error {
	return c.emit(domain.EventWebRTCSignal, domain.SignalPayload{
		TargetID: target,
		Signal:   signal,
	})
}

// Chat operations.

func (c *Client) JoinRoom(room domain.Room) error {
	return c.emit(domain.EventChatJoin, domain.ChatRoomPayload{Room: room})
}

func (c *Client) LeaveRoom(room domain.Room) error {
	return c.emit(domain.EventChatLeave, domain.ChatRoomPayload{Room: room})
}

func (c *Client) SendMessage(p domain.ChatMessagePayload) error {
	return c.emit(domain.EventChatMessage, p)
}

func (c *Client) SetTyping(room domain.Room, typing bool) error {
	return c.emit(domain.EventChatTyping, domain.TypingPayload{Room: room, IsTyping: typing})
}

func (c *Client) MarkRead(room domain.Room, id domain.MessageID) error {
	return c.emit(domain.EventChatRead, domain.ReadReceiptPayload{Room: room, MessageID: id})
}

func (c *Client) SetStatus(status domain.UserStatus) error {
	return c.emit(domain.EventUserStatus, domain.StatusPayload{Status: status})
}

func (c *Client) StartMeeting(p domain.MeetingPayload) error {
	return c.emit(domain.EventMeetingStart, p)
}

func (c *Client) dispatch(env domain.Envelope) {
	switch env.Event {
	case domain.EventCallInitiated:
		var p domain.CallInitiatedPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleInitiated(p.CallID)
		}
	case domain.EventCallIncoming:
		var session domain.CallSession
		if c.decode(env, &session) && c.calls != nil {
			c.calls.HandleIncoming(&session)
		}
	case domain.EventCallAccepted:
		var p domain.CallRefPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleAccepted(p.CallID)
		}
	case domain.EventCallJoined:
		var session domain.CallSession
		if c.decode(env, &session) && c.calls != nil {
			c.calls.HandleJoined(&session)
		}
	case domain.EventCallRejected:
		var p domain.CallRefPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleRejected(p.CallID)
		}
	case domain.EventCallEnded:
		var p domain.CallRefPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleEnded(p.CallID)
		}
	case domain.EventParticipantJoined:
		var p domain.ParticipantPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleParticipantJoined(p.CallID, p.UserID)
		}
	case domain.EventParticipantLeft:
		var p domain.ParticipantPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleParticipantLeft(p.CallID, p.UserID)
		}
	case domain.EventWebRTCSignal:
		var p domain.SignalPayload
		if c.decode(env, &p) && c.calls != nil {
			c.calls.HandleSignal(p.SenderID, p.Signal)
		}

	case domain.EventChatMessage:
		var msg domain.Message
		if c.decode(env, &msg) && c.chat.OnMessage != nil {
			c.chat.OnMessage(&msg)
		}
	case domain.EventChatTyping:
		var p domain.TypingPayload
		if c.decode(env, &p) && c.chat.OnTyping != nil {
			c.chat.OnTyping(p)
		}
	case domain.EventChatRead:
		var p domain.ReadReceiptPayload
		if c.decode(env, &p) && c.chat.OnReadReceipt != nil {
			c.chat.OnReadReceipt(p)
		}
	case domain.EventMeetingStarted:
		var p domain.MeetingPayload
		if c.decode(env, &p) && c.chat.OnMeeting != nil {
			c.chat.OnMeeting(p)
		}
	case domain.EventUserStatus:
		var p domain.StatusPayload
		if c.decode(env, &p) && c.chat.OnUserStatus != nil {
			c.chat.OnUserStatus(p)
		}
	case domain.EventError:
		var p domain.ErrorPayload
		if c.decode(env, &p) {
			c.logger.Warnw("relay reported error", "message", p.Message)
			if c.chat.OnError != nil {
				c.chat.OnError(p.Message)
			}
		}

	case domain.EventUserOnline, domain.EventUserOffline:
		// Presence pulses carry only a user id; surface through OnUserStatus.
		if c.chat.OnUserStatus != nil {
			var userID domain.UserID
			if c.decode(env, &userID) {
				status := domain.StatusOnline
				if env.Event == domain.EventUserOffline {
					status = domain.StatusOffline
				}
				c.chat.OnUserStatus(domain.StatusPayload{UserID: userID, Status: status})
			}
		}

	default:
		c.logger.Debugw("unhandled event", "event", env.Event)
	}
}

func (c *Client) decode(env domain.Envelope, out interface{}) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.logger.Warnw("failed to decode event payload", "event", env.Event, "error", err)
		return false
	}
	return true
}
