package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

// MemoryStore is an in-process Store for tests and throwaway servers.
type MemoryStore struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	commits map[string][]memoryCommit
	seq     int64
	now     func() time.Time
}

type memoryCommit struct {
	seq      int64
	position int64
	shape    protocol.Shape
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]*Room),
		commits: make(map[string][]memoryCommit),
		now:     time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRoom(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRoom(id, name)
	return nil
}

func (s *MemoryStore) ensureRoom(id, name string) *Room {
	room, ok := s.rooms[id]
	if !ok {
		now := s.now()
		room = &Room{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
		s.rooms[id] = room
	}
	return room
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *room
	return &clone, nil
}

func (s *MemoryStore) ListRooms(_ context.Context, limit, offset int) ([]Room, error) {
	s.mu.RLock()
	rooms := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, *room)
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})

	if offset >= len(rooms) {
		return nil, nil
	}
	rooms = rooms[offset:]
	if limit >= 0 && limit < len(rooms) {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	delete(s.commits, id)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, roomID string) ([]protocol.Shape, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latest(roomID)
	shapes := make([]protocol.Shape, 0, len(latest))
	for _, c := range latest {
		shapes = append(shapes, c.shape.Clone())
	}
	return shapes, nil
}

// latest returns the newest commit per shape id ordered by position.
func (s *MemoryStore) latest(roomID string) []memoryCommit {
	byID := make(map[string]memoryCommit)
	for _, c := range s.commits[roomID] {
		if prev, ok := byID[c.shape.ID]; !ok || c.seq > prev.seq {
			byID[c.shape.ID] = c
		}
	}

	out := make([]memoryCommit, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].position != out[j].position {
			return out[i].position < out[j].position
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (s *MemoryStore) Commit(_ context.Context, roomID string, shape protocol.Shape) error {
	if err := validateCommit(roomID, shape); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.ensureRoom(roomID, "")
	room.UpdatedAt = s.now()

	commits := s.commits[roomID]
	var position, maxPosition int64
	for _, c := range commits {
		if c.shape.ID == shape.ID && position == 0 {
			position = c.position
		}
		if c.position > maxPosition {
			maxPosition = c.position
		}
	}
	if position == 0 {
		position = maxPosition + 1
	}

	s.seq++
	s.commits[roomID] = append(commits, memoryCommit{
		seq:      s.seq,
		position: position,
		shape:    shape.Clone(),
	})
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.commits, roomID)
	return nil
}

func (s *MemoryStore) ShapeCount(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest(roomID)), nil
}

func (s *MemoryStore) SupersededCount(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.commits[roomID]) - len(s.latest(roomID)), nil
}

func (s *MemoryStore) PruneSuperseded(_ context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.commits[roomID])
	if before == 0 {
		return 0, nil
	}
	kept := s.latest(roomID)
	s.commits[roomID] = kept
	return int64(before - len(kept)), nil
}

func (s *MemoryStore) GetStats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{RoomCount: len(s.rooms)}
	for roomID, commits := range s.commits {
		stats.CommitCount += len(commits)
		stats.ShapeCount += len(s.latest(roomID))
	}
	return stats, nil
}
