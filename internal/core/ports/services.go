package ports

import (
	"context"
	"time"

	"roomsignal/internal/core/domain"
)

// Outbox enqueues an envelope onto a connection's outbound buffer. It never
// blocks; a closed or overflowing connection yields domain.ErrTransportClosed.
type Outbox interface {
	Deliver(target domain.ConnectionID, env domain.Envelope) error
}

// RoomObserver is notified of membership changes in the order the registry
// applies them. Implementations are called with the room lock held and must
// not block.
type RoomObserver interface {
	RoomCreated(room domain.RoomID, at time.Time)
	RoomRemoved(room domain.RoomID)
	MemberJoined(room domain.RoomID, conn domain.ConnectionID)
	MemberLeft(room domain.RoomID, conn domain.ConnectionID, reason domain.LeaveReason)
}

type RoomRegistry interface {
	Join(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) ([]domain.ConnectionID, error)
	Leave(ctx context.Context, conn domain.ConnectionID, reason domain.LeaveReason) (domain.RoomID, bool)
	MembersOf(room domain.RoomID) []domain.ConnectionID
	RoomOf(conn domain.ConnectionID) (domain.RoomID, bool)
	IsMember(room domain.RoomID, conn domain.ConnectionID) bool
	Rooms() []domain.Room
}

type MessageRouter interface {
	Route(ctx context.Context, sender domain.ConnectionID, env domain.Envelope) error
}

type PresenceTracker interface {
	Track(conn domain.ConnectionID, onExpire func())
	Touch(conn domain.ConnectionID)
	Forget(conn domain.ConnectionID)
	LastSeen(conn domain.ConnectionID) (time.Time, bool)
	Interval() time.Duration
}

// IdentityResolver is optionally implemented by an Outbox that knows which
// user owns a connection.
type IdentityResolver interface {
	UserOf(conn domain.ConnectionID) domain.UserID
}

// RoomEventPublisher fans membership events out to other processes.
type RoomEventPublisher interface {
	Publish(ctx context.Context, event *domain.RoomEvent) error
}
