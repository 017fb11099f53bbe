package room

import (
	"sync"
)

// Member is one live connection that can receive frames.
type Member interface {
	ID() string

	// Send queues a frame without blocking. It returns false when the
	// member's outbound queue is full.
	Send(data []byte) bool

	// Close stops the member's outbound queue.
	Close()
}

// PublishResult reports the outcome of a single broadcast
type PublishResult struct {
	Sent    int
	Dropped []Member
}

// The set of sessions connected to one board
type Room struct {
	ID      string
	members map[Member]struct{}
	mu      sync.RWMutex
}

// Creates an empty room with the given ID
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[Member]struct{}),
	}
}

// Adds a member; adding it twice is a no-op. Reports whether it was new.
func (r *Room) Add(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m]; ok {
		return false
	}
	r.members[m] = struct{}{}
	return true
}

// Removes a member. Reports whether it was present.
func (r *Room) Remove(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m]; !ok {
		return false
	}
	delete(r.members, m)
	return true
}

func (r *Room) Has(m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[m]
	return ok
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Empty() bool {
	return r.Len() == 0
}

// Broadcast offers data to every member except from. A member whose
// queue is full is reported in Dropped; delivery to the rest continues.
// Removing dropped members is left to the caller.
func (r *Room) Broadcast(from Member, data []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res PublishResult
	for m := range r.members {
		if m == from {
			continue
		}
		if m.Send(data) {
			res.Sent++
		} else {
			res.Dropped = append(res.Dropped, m)
		}
	}
	return res
}
