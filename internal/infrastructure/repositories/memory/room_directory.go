package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
)

type MemoryRoomDirectory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.RoomRecord
	now   func() time.Time
}

func NewMemoryRoomDirectory() ports.RoomDirectory {
	return &MemoryRoomDirectory{
		rooms: make(map[domain.RoomID]*domain.RoomRecord),
		now:   time.Now,
	}
}

func (r *MemoryRoomDirectory) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rooms[record.ID]
	if !ok {
		stored := copyRecord(record)
		if stored.Members == nil {
			stored.Members = []domain.ConnectionID{}
		}
		r.rooms[record.ID] = stored
		return nil
	}
	existing.InstanceID = record.InstanceID
	existing.UpdatedAt = record.UpdatedAt
	if len(record.Members) > 0 {
		existing.Members = append([]domain.ConnectionID(nil), record.Members...)
	}
	return nil
}

func (r *MemoryRoomDirectory) Remove(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
	return nil
}

// AddMember appends conn, creating a placeholder record when the room-created
// event was lost.
func (r *MemoryRoomDirectory) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	room, ok := r.rooms[id]
	if !ok {
		room = &domain.RoomRecord{ID: id, CreatedAt: now}
		r.rooms[id] = room
	}
	for _, m := range room.Members {
		if m == conn {
			return nil
		}
	}
	room.Members = append(room.Members, conn)
	room.UpdatedAt = now
	return nil
}

func (r *MemoryRoomDirectory) RemoveMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil
	}
	for i, m := range room.Members {
		if m == conn {
			room.Members = append(room.Members[:i:i], room.Members[i+1:]...)
			room.UpdatedAt = r.now()
			break
		}
	}
	return nil
}

func (r *MemoryRoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return copyRecord(room), nil
}

func (r *MemoryRoomDirectory) List(ctx context.Context) ([]*domain.RoomRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.RoomRecord, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, copyRecord(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRoomDirectory) HealthCheck(ctx context.Context) error {
	return nil
}

func copyRecord(rec *domain.RoomRecord) *domain.RoomRecord {
	out := *rec
	out.Members = append([]domain.ConnectionID{}, rec.Members...)
	return &out
}
