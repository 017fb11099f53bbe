package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024 * 1024
	sendBuffer     = 256
	eventBuffer    = 256
)

// Transport carries lifecycle events between a board and the relay.
type Transport interface {
	// Send queues an event without blocking. It returns
	// ErrTransportUnavailable when the event cannot be queued.
	Send(protocol.Event) error

	// Events yields remote events. The channel is closed when the
	// connection ends.
	Events() <-chan protocol.Event

	Close() error
}

// WSTransport is a Transport over one WebSocket connection joined to a
// single room.
type WSTransport struct {
	conn      *websocket.Conn
	roomID    string
	send      chan []byte
	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once

	// Held for writing while done is closed, so no frame is queued after
	// the writer's final flush.
	sendMu sync.RWMutex
	logger    *slog.Logger
}

// WebSocketURL maps an http(s) server address to its relay endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// Dial connects to the relay at serverURL and joins roomID.
func Dial(ctx context.Context, serverURL, roomID string, logger *slog.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, wsURL, err)
	}

	t := &WSTransport{
		conn:   conn,
		roomID: roomID,
		send:   make(chan []byte, sendBuffer),
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "transport", "room", roomID),
	}

	// The join frame is queued first, so it precedes every other frame.
	if err := t.Send(protocol.Join{RoomID: roomID}); err != nil {
		conn.Close()
		return nil, err
	}

	go t.writePump()
	go t.readPump()
	return t, nil
}

func (t *WSTransport) Send(ev protocol.Event) error {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()

	select {
	case <-t.done:
		return ErrTransportUnavailable
	default:
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case t.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrTransportUnavailable)
	}
}

func (t *WSTransport) Events() <-chan protocol.Event {
	return t.events
}

// Close flushes queued events and ends the connection. Events is closed
// once the reader exits.
func (t *WSTransport) Close() error {
	t.shutdown()
	return nil
}

func (t *WSTransport) shutdown() {
	t.closeOnce.Do(func() {
		t.sendMu.Lock()
		close(t.done)
		t.sendMu.Unlock()
	})
}

func (t *WSTransport) readPump() {
	defer func() {
		close(t.events)
		t.shutdown()
		t.conn.Close()
	}()

	t.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("connection lost", "error", err)
			}
			return
		}

		ev, err := protocol.Decode(message)
		if err != nil {
			t.logger.Debug("ignoring malformed event", "error", err)
			continue
		}

		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) writePump() {
	defer t.conn.Close()

	for {
		select {
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.shutdown()
				return
			}

		case <-t.done:
			if err := t.flush(); err != nil {
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes every frame still queued once done is closed.
func (t *WSTransport) flush() error {
	for {
		select {
		case message := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
