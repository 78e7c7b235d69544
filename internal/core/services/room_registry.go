package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/tracing"

	"go.uber.org/zap"
)

// RoomRegistry is the single source of truth for room membership.
//
// Every room carries its own mutex, so operations on different rooms run in
// parallel while joins and leaves on the same room are linearized. Lock order
// is room.mu before r.mu; r.mu is only held for map bookkeeping.
type RoomRegistry struct {
	outbox    ports.Outbox
	observers []ports.RoomObserver
	logger    *zap.SugaredLogger

	maxMembers int
	now        func() time.Time

	mu       sync.Mutex
	rooms    map[domain.RoomID]*roomState
	memberOf map[domain.ConnectionID]domain.RoomID
}

type roomState struct {
	mu        sync.Mutex
	id        domain.RoomID
	members   []domain.ConnectionID
	createdAt time.Time
	removed   bool
}

type RegistryOption func(*RoomRegistry)

// WithMaxMembers bounds room size. Zero means unbounded.
func WithMaxMembers(n int) RegistryOption {
	return func(r *RoomRegistry) { r.maxMembers = n }
}

func WithRoomObserver(o ports.RoomObserver) RegistryOption {
	return func(r *RoomRegistry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func WithRegistryLogger(l *zap.SugaredLogger) RegistryOption {
	return func(r *RoomRegistry) { r.logger = l }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *RoomRegistry) { r.now = now }
}

func NewRoomRegistry(outbox ports.Outbox, opts ...RegistryOption) *RoomRegistry {
	r := &RoomRegistry{
		outbox:   outbox,
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
		rooms:    make(map[domain.RoomID]*roomState),
		memberOf: make(map[domain.ConnectionID]domain.RoomID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join admits conn to room, creating the room if needed, and returns the
// members present before the join in join order. Existing members receive a
// peer-joined envelope and the joiner receives its joined reply, both enqueued
// under the room lock so no later membership event can overtake them.
//
// A connection already in another room leaves it first. Joining the room it
// already occupies returns the other members without any broadcast.
func (r *RoomRegistry) Join(ctx context.Context, roomID domain.RoomID, conn domain.ConnectionID) ([]domain.ConnectionID, error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(roomID), string(conn))
	defer span.End()

	for {
		if current, ok := r.RoomOf(conn); ok && current != roomID {
			r.Leave(ctx, conn, domain.LeaveSwitch)
		}

		room := r.lockRoom(roomID, true)

		r.mu.Lock()
		current, inRoom := r.memberOf[conn]
		r.mu.Unlock()

		if inRoom && current != roomID {
			// Raced with another join for the same connection; leave again.
			room.mu.Unlock()
			r.dropIfEmpty(room)
			continue
		}

		if inRoom {
			others := without(room.members, conn)
			room.mu.Unlock()
			return others, nil
		}

		if r.maxMembers > 0 && len(room.members) >= r.maxMembers {
			room.mu.Unlock()
			tracing.RecordError(ctx, domain.ErrCapacityExceeded)
			return nil, fmt.Errorf("join %q: %w (max %d)", roomID, domain.ErrCapacityExceeded, r.maxMembers)
		}

		before := make([]domain.ConnectionID, len(room.members))
		copy(before, room.members)

		if len(room.members) == 0 {
			for _, o := range r.observers {
				o.RoomCreated(roomID, room.createdAt)
			}
		}

		room.members = append(room.members, conn)
		r.mu.Lock()
		r.memberOf[conn] = roomID
		r.mu.Unlock()

		for _, o := range r.observers {
			o.MemberJoined(roomID, conn)
		}

		joined := domain.NewPeerJoined(roomID, conn, r.userOf(conn))
		for _, member := range before {
			r.deliver(member, joined)
		}
		r.deliver(conn, domain.NewJoined(roomID, conn, before))

		room.mu.Unlock()

		r.logger.Debugw("connection joined room",
			"room_id", roomID,
			"connection_id", conn,
			"members", len(before)+1,
		)
		return before, nil
	}
}

// Leave removes conn from whatever room it occupies. It returns the room left
// and false when the connection was not in a room.
func (r *RoomRegistry) Leave(ctx context.Context, conn domain.ConnectionID, reason domain.LeaveReason) (domain.RoomID, bool) {
	for {
		roomID, ok := r.RoomOf(conn)
		if !ok {
			return "", false
		}

		_, span := tracing.TraceRoomOperation(ctx, "leave", string(roomID), string(conn))

		room := r.lockRoom(roomID, false)
		if room == nil {
			span.End()
			continue
		}

		r.mu.Lock()
		current, inRoom := r.memberOf[conn]
		if !inRoom || current != roomID {
			r.mu.Unlock()
			room.mu.Unlock()
			span.End()
			continue
		}
		delete(r.memberOf, conn)
		r.mu.Unlock()

		room.members = without(room.members, conn)

		for _, o := range r.observers {
			o.MemberLeft(roomID, conn, reason)
		}

		left := domain.NewPeerLeft(roomID, conn, r.userOf(conn))
		for _, member := range room.members {
			r.deliver(member, left)
		}

		if len(room.members) == 0 {
			room.removed = true
			r.mu.Lock()
			if r.rooms[roomID] == room {
				delete(r.rooms, roomID)
			}
			r.mu.Unlock()
			for _, o := range r.observers {
				o.RoomRemoved(roomID)
			}
		}
		remaining := len(room.members)
		room.mu.Unlock()
		span.End()

		r.logger.Debugw("connection left room",
			"room_id", roomID,
			"connection_id", conn,
			"reason", reason,
			"remaining", remaining,
		)
		return roomID, true
	}
}

// MembersOf returns a snapshot of the room's members in join order.
func (r *RoomRegistry) MembersOf(roomID domain.RoomID) []domain.ConnectionID {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.removed || len(room.members) == 0 {
		return nil
	}
	out := make([]domain.ConnectionID, len(room.members))
	copy(out, room.members)
	return out
}

func (r *RoomRegistry) RoomOf(conn domain.ConnectionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.memberOf[conn]
	return id, ok
}

func (r *RoomRegistry) IsMember(roomID domain.RoomID, conn domain.ConnectionID) bool {
	current, ok := r.RoomOf(conn)
	return ok && current == roomID
}

// Rooms enumerates non-empty rooms sorted by id.
func (r *RoomRegistry) Rooms() []domain.Room {
	r.mu.Lock()
	states := make([]*roomState, 0, len(r.rooms))
	for _, room := range r.rooms {
		states = append(states, room)
	}
	r.mu.Unlock()

	rooms := make([]domain.Room, 0, len(states))
	for _, room := range states {
		room.mu.Lock()
		if !room.removed && len(room.members) > 0 {
			members := make([]domain.ConnectionID, len(room.members))
			copy(members, room.members)
			rooms = append(rooms, domain.Room{ID: room.id, Members: members, CreatedAt: room.createdAt})
		}
		room.mu.Unlock()
	}

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Len returns the number of non-empty rooms.
func (r *RoomRegistry) Len() int {
	return len(r.Rooms())
}

// lockRoom returns the live room for id with its mutex held, creating it when
// create is set. It returns nil when the room is absent and create is false.
func (r *RoomRegistry) lockRoom(id domain.RoomID, create bool) *roomState {
	for {
		r.mu.Lock()
		room, ok := r.rooms[id]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			room = &roomState{id: id, createdAt: r.now()}
			r.rooms[id] = room
		}
		r.mu.Unlock()

		room.mu.Lock()
		if !room.removed {
			return room
		}
		room.mu.Unlock()
	}
}

// dropIfEmpty removes a room that was created but never admitted anyone.
func (r *RoomRegistry) dropIfEmpty(room *roomState) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.removed || len(room.members) > 0 {
		return
	}
	room.removed = true
	r.mu.Lock()
	if r.rooms[room.id] == room {
		delete(r.rooms, room.id)
	}
	r.mu.Unlock()
}

func (r *RoomRegistry) deliver(target domain.ConnectionID, env domain.Envelope) {
	if r.outbox == nil {
		return
	}
	if err := r.outbox.Deliver(target, env); err != nil {
		r.logger.Debugw("membership event dropped",
			"kind", env.Kind,
			"room_id", env.Room,
			"target", target,
			"error", err,
		)
	}
}

func (r *RoomRegistry) userOf(conn domain.ConnectionID) domain.UserID {
	if resolver, ok := r.outbox.(ports.IdentityResolver); ok {
		return resolver.UserOf(conn)
	}
	return ""
}

func without(members []domain.ConnectionID, conn domain.ConnectionID) []domain.ConnectionID {
	out := members[:0:0]
	for _, m := range members {
		if m != conn {
			out = append(out, m)
		}
	}
	return out
}
