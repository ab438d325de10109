// Package websocket adapts gorilla websocket connections to broker sessions.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"room-broker/internal/domain"
	"room-broker/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 32 << 10
	sendTimeout    = 5 * time.Second
	sendBufferSize = 256
)

var errClientClosed = errors.New("websocket client closed")

// Session is the broker session a client reads into.
type Session interface {
	Send(ctx context.Context, content string) (domain.Message, error)
	Close() error
}

type ClientMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ClientRef string `json:"client_ref,omitempty"`
}

type ServerMessage struct {
	Type      string           `json:"type"`
	Message   *domain.Message  `json:"message,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
	ClientRef string           `json:"client_ref,omitempty"`
	Code      string           `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
	Retryable *bool            `json:"retryable,omitempty"`
}

// Client owns one websocket connection. It is the outbound transport of a
// broker session and feeds inbound "send" frames back into that session.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	roomID  string
	session Session

	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

func NewClient(ctx context.Context, conn *websocket.Conn, userID, roomID string) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		userID:    userID,
		roomID:    roomID,
		done:      make(chan struct{}),
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// Attach sets the session inbound frames are sent on. It must be called
// before ReadPump.
func (c *Client) Attach(s Session) {
	c.session = s
}

// Deliver writes one "message" frame per live message.
func (c *Client) Deliver(ctx context.Context, batch []domain.Message) error {
	for i := range batch {
		if err := c.enqueue(ctx, ServerMessage{Type: "message", Message: &batch[i]}); err != nil {
			return err
		}
	}
	return nil
}

// DeliverHistory writes the replayed history as a single "history" frame.
func (c *Client) DeliverHistory(ctx context.Context, batch []domain.Message) error {
	if batch == nil {
		batch = []domain.Message{}
	}
	return c.enqueue(ctx, ServerMessage{Type: "history", Messages: batch})
}

// Fail reports err to the peer and closes the connection after the frame
// is flushed.
func (c *Client) Fail(err error, clientRef string) {
	if sendErr := c.enqueue(c.ctx, errorFrame(err, clientRef)); sendErr != nil {
		slog.Debug("failed to queue error frame",
			slog.String("error", sendErr.Error()),
			slog.String("user_id", c.userID))
	}
	_ = c.Close()
}

// Close stops the write pump. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) enqueue(ctx context.Context, frame ServerMessage) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", frame.Type, err)
	}

	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	case <-c.ctx.Done():
		return errClientClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out queueing %s frame", frame.Type)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		if c.session != nil {
			if err := c.session.Close(); err != nil {
				slog.Warn("failed to close session",
					slog.String("error", err.Error()),
					slog.String("user_id", c.userID))
			}
		}
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("user_id", c.userID),
			slog.String("room_id", c.roomID))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			slog.Warn("failed to set read deadline in pong handler",
				slog.String("error", err.Error()),
				slog.String("user_id", c.userID),
				slog.String("room_id", c.roomID))
			return err
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("user_id", c.userID))
			}
			return
		}

		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(message, &clientMsg); err != nil {
		slog.Warn("invalid message format",
			slog.String("error", err.Error()),
			slog.String("user_id", c.userID))
		c.reply(errorFrame(fmt.Errorf("%w: malformed frame", domain.ErrInvalidInput), ""))
		return
	}

	if clientMsg.Type != "send" {
		c.reply(errorFrame(fmt.Errorf("%w: unknown frame type %q", domain.ErrInvalidInput, clientMsg.Type), clientMsg.ClientRef))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()

	msg, err := c.session.Send(ctx, clientMsg.Content)
	if err != nil {
		slog.Warn("send rejected",
			slog.String("error", err.Error()),
			slog.String("user_id", c.userID),
			slog.String("room_id", c.roomID),
			slog.String("client_ref", clientMsg.ClientRef))
		c.reply(errorFrame(err, clientMsg.ClientRef))
		return
	}

	c.reply(ServerMessage{Type: "ack", ClientRef: clientMsg.ClientRef, Message: &msg})
}

func (c *Client) reply(frame ServerMessage) {
	if err := c.enqueue(c.ctx, frame); err != nil {
		slog.Debug("failed to queue reply",
			slog.String("error", err.Error()),
			slog.String("type", frame.Type),
			slog.String("user_id", c.userID))
	}
}

// WritePump pumps queued frames to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.writeFrame(message); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			_ = c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued once the client is closing.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.writeFrame(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeFrame(data []byte) error {
	if err := c.writeMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) == nil {
		observability.WebSocketMessagesSent.WithLabelValues(head.Type).Inc()
	}
	return nil
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("user_id", c.userID),
			slog.String("room_id", c.roomID))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.ctxCancel()
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}

// ErrorCode maps a broker error to the code reported in error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

func errorFrame(err error, clientRef string) ServerMessage {
	return ServerMessage{
		Type:      "error",
		ClientRef: clientRef,
		Code:      ErrorCode(err),
		Error:     err.Error(),
		Retryable: lo.ToPtr(domain.IsRetryable(err)),
	}
}
