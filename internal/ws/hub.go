package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mitmirani09/syncboard/internal/metrics"
	"github.com/mitmirani09/syncboard/internal/room"
)

// Config holds per-connection limits applied by ServeWs.
type Config struct {
	MessagesPerSecond float64
	MessageBurst      int
	SendBuffer        int
}

func DefaultConfig() Config {
	return Config{
		MessagesPerSecond: 100,
		MessageBurst:      200,
		SendBuffer:        512,
	}
}

// The set of active sessions by room; relays frames between them
type Hub struct {
	// Live rooms; a room is dropped once its last member leaves
	rooms map[string]*room.Room

	// Room each joined member belongs to
	memberships map[room.Member]string

	// Inbound frames from members
	broadcast chan *Message

	// Join requests
	register chan *joinRequest

	// Leave requests
	unregister chan room.Member

	// Closed when Run returns
	done chan struct{}

	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	mu      sync.RWMutex
}

type Message struct {
	RoomID string
	Data   []byte
	Sender room.Member

	// Event type, for metrics only
	Type string
}

type joinRequest struct {
	member room.Member
	roomID string
}

func NewHub(config Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:       make(map[string]*room.Room),
		memberships: make(map[room.Member]string),
		broadcast:   make(chan *Message, 256),
		register:    make(chan *joinRequest),
		unregister:  make(chan room.Member),
		done:        make(chan struct{}),
		config:      config,
		logger:      logger.With("component", "hub"),
		metrics:     m,
	}
}

// Run owns all membership changes. It returns when ctx is cancelled,
// closing every member still connected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case req := <-h.register:
			h.join(req.member, req.roomID)

		case member := <-h.unregister:
			h.leave(member)
			member.Close()

		case message := <-h.broadcast:
			h.relay(message)
		}
	}
}

// Join adds member to roomID. Joining the same room again is a no-op;
// a member that already belongs to a room cannot move to another one.
func (h *Hub) Join(member room.Member, roomID string) {
	select {
	case h.register <- &joinRequest{member: member, roomID: roomID}:
	case <-h.done:
	}
}

// Leave removes member from its room and closes its outbound queue.
func (h *Hub) Leave(member room.Member) {
	select {
	case h.unregister <- member:
	case <-h.done:
		member.Close()
	}
}

// Broadcast relays data to every member of roomID except origin.
func (h *Hub) Broadcast(origin room.Member, roomID string, data []byte) {
	h.Publish(&Message{RoomID: roomID, Data: data, Sender: origin})
}

func (h *Hub) Publish(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *Hub) join(member room.Member, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.memberships[member]; ok {
		if current != roomID {
			h.logger.Warn("ignoring join to a second room",
				"member", member.ID(), "room", current, "requested", roomID)
		}
		return
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = room.NewRoom(roomID)
		h.rooms[roomID] = r
		h.metrics.SetActiveRooms(len(h.rooms))
	}
	r.Add(member)
	h.memberships[member] = roomID
	h.metrics.SessionJoined()

	h.logger.Info("member joined", "member", member.ID(), "room", roomID, "total", r.Len())
}

func (h *Hub) leave(member room.Member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(member)
}

func (h *Hub) removeLocked(member room.Member) bool {
	roomID, ok := h.memberships[member]
	if !ok {
		return false
	}
	delete(h.memberships, member)
	h.metrics.SessionLeft()

	r, ok := h.rooms[roomID]
	if !ok {
		return true
	}
	r.Remove(member)
	if r.Empty() {
		delete(h.rooms, roomID)
		h.metrics.SetActiveRooms(len(h.rooms))
		h.logger.Info("room closed (empty)", "room", roomID)
	} else {
		h.logger.Info("member left", "member", member.ID(), "room", roomID, "remaining", r.Len())
	}
	return true
}

func (h *Hub) relay(message *Message) {
	h.mu.RLock()
	r, ok := h.rooms[message.RoomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	res := r.Broadcast(message.Sender, message.Data)
	if message.Type != "" {
		h.metrics.RecordRelay(message.Type)
	}
	if len(res.Dropped) == 0 {
		return
	}

	h.mu.Lock()
	for _, member := range res.Dropped {
		if h.removeLocked(member) {
			member.Close()
			h.metrics.RecordEviction()
			h.logger.Warn("evicted slow member", "member", member.ID(), "room", message.RoomID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for member := range h.memberships {
		member.Close()
		h.metrics.SessionLeft()
	}
	h.memberships = make(map[room.Member]string)
	h.rooms = make(map[string]*room.Room)
	h.metrics.SetActiveRooms(0)
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}

// GetActiveRooms maps each live room to its member count.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make(map[string]int, len(h.rooms))
	for id, r := range h.rooms {
		rooms[id] = r.Len()
	}
	return rooms
}

// RoomOf reports the room member has joined, if any.
func (h *Hub) RoomOf(member room.Member) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.memberships[member]
	return id, ok
}
