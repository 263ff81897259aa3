package ws

import (
	"sync"
	"time"

	"github.com/damoang/angple-social/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 256
)

// Client represents a single WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
	done chan struct{}

	mu       sync.RWMutex
	userID   string
	closed   bool
	closeMsg []byte
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
}

// ID connection id
func (c *Client) ID() string {
	return c.id
}

// UserID the authenticated user, empty before authentication
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Send queues data for the write pump. A full buffer marks the client as
// a slow consumer and closes it.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.closed = true
		close(c.send)
		slowConsumers.Inc()
		logger.Warn("dropping slow consumer %s (user %s)", c.id, c.userID)
		return false
	}
}

// SendEvent encodes and queues an event
func (c *Client) SendEvent(event *Event) bool {
	data, err := event.Encode()
	if err != nil {
		logger.Error("encode %s event: %v", event.Type, err)
		return false
	}
	return c.Send(data)
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeAfterFlush lets the write pump finish the queued frames, then send
// a close frame with code, and waits for it up to writeWait.
func (c *Client) closeAfterFlush(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// 이미 닫힌 send 채널: 바로 control frame 전송
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck
		return
	}
	c.closed = true
	c.closeMsg = msg
	close(c.send)
	c.mu.Unlock()

	if c.done == nil {
		return
	}
	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
}

func (c *Client) closeMessage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closeMsg == nil {
		return []byte{}
	}
	return c.closeMsg
}

// ReadPump reads frames and feeds them to the connection's session.
// identity is nil when the handshake carried no credential.
func (c *Client) ReadPump(identity *Identity) {
	session := NewSession(c.hub, c)
	defer func() {
		session.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		if session.Authenticated() {
			c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		}
		return nil
	})

	if identity != nil {
		if ce := session.Start(identity); ce != nil {
			c.closeAfterFlush(ce.Code, ce.Reason)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	} else {
		// 인증 전에는 auth timeout 안에 authenticate 이벤트가 와야 함
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.AuthTimeout)) //nolint:errcheck
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !session.Authenticated() {
				c.closeAfterFlush(CloseAuthFailed, "authentication required")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("connection %s read error: %v", c.id, err)
			}
			return
		}

		if ce := session.Handle(data); ce != nil {
			c.closeAfterFlush(ce.Code, ce.Reason)
			return
		}
		if session.Authenticated() {
			c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		}
	}
}

// WritePump sends messages to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage()) //nolint:errcheck
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message) //nolint:errcheck
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
