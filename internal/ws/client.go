package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mitmirani09/syncboard/internal/protocol"
	"github.com/mitmirani09/syncboard/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	// Violations tolerated before the connection is dropped
	maxRateLimitWarnings = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket session. Its room is set by the first join and
// never changes afterwards.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	rateLimiter *ratelimit.Limiter
	clientID    string
	logger      *slog.Logger
	closeOnce   sync.Once
}

// ServeWs upgrades the request and starts the session pumps. The optional
// room query parameter joins the session immediately; otherwise the first
// join frame does.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	clientID := uuid.NewString()
	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.config.SendBuffer),
		rateLimiter: ratelimit.NewLimiter(hub.config.MessagesPerSecond, hub.config.MessageBurst),
		clientID:    clientID,
		logger:      hub.logger.With("client", clientID, "remote", conn.RemoteAddr().String()),
	}

	if roomID := r.URL.Query().Get("room"); roomID != "" {
		client.roomID = roomID
		hub.Join(client, roomID)
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) ID() string { return c.clientID }

// Send queues a frame for the writer. It never blocks.
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close ends the writer, which sends a close frame and drops the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			c.hub.metrics.RecordDrop("rate_limited")
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn("rate limit exceeded", "room", c.roomID, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				c.logger.Warn("disconnecting for excessive rate limit violations")
				return
			}
			continue
		}

		if err := c.handleFrame(message); err != nil {
			c.logger.Debug("dropped frame", "room", c.roomID, "error", err)
		}
	}
}

var (
	errNotJoined    = errors.New("frame before join")
	errRoomMismatch = errors.New("frame addressed to another room")
)

// handleFrame checks framing only; event contents are relayed untouched.
func (c *Client) handleFrame(message []byte) error {
	header, err := protocol.PeekHeader(message)
	if err != nil {
		c.hub.metrics.RecordDrop("malformed")
		return err
	}

	if header.Type == protocol.TypeJoin {
		return c.handleJoin(header.RoomID)
	}

	if c.roomID == "" {
		c.hub.metrics.RecordDrop("not_joined")
		return errNotJoined
	}
	if header.RoomID != "" && header.RoomID != c.roomID {
		c.hub.metrics.RecordDrop("room_mismatch")
		return errRoomMismatch
	}

	c.hub.Publish(&Message{
		RoomID: c.roomID,
		Data:   message,
		Sender: c,
		Type:   string(header.Type),
	})
	return nil
}

func (c *Client) handleJoin(roomID string) error {
	switch {
	case roomID == "":
		c.hub.metrics.RecordDrop("malformed")
		return protocol.ErrMalformedEvent
	case c.roomID == "":
		c.roomID = roomID
		c.hub.Join(c, roomID)
	case c.roomID != roomID:
		c.logger.Warn("ignoring join to a second room", "room", c.roomID, "requested", roomID)
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
