package ports

import (
	"context"

	"roomsignal/internal/core/domain"
)

// RoomDirectory is an eventually consistent mirror of room membership for
// dashboards and other instances. Routing never consults it.
type RoomDirectory interface {
	Upsert(ctx context.Context, record *domain.RoomRecord) error
	Remove(ctx context.Context, id domain.RoomID) error
	AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error
	RemoveMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error
	Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error)
	List(ctx context.Context) ([]*domain.RoomRecord, error)
	HealthCheck(ctx context.Context) error
}
