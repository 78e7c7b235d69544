package services

import (
	"context"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/cache"
)

const roomListKey = "rooms"

// CachedDirectory serves directory reads from a short-lived cache. Writes go
// straight through and drop the affected entries. Records written by other
// instances can be stale for up to the TTL.
type CachedDirectory struct {
	ports.RoomDirectory
	cache *cache.Cache[[]*domain.RoomRecord]
}

func NewCachedDirectory(directory ports.RoomDirectory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		RoomDirectory: directory,
		cache:         cache.New[[]*domain.RoomRecord](ttl),
	}
}

func roomKey(id domain.RoomID) string {
	return "room:" + string(id)
}

func (d *CachedDirectory) invalidate(id domain.RoomID) {
	d.cache.Delete(roomKey(id))
	d.cache.Delete(roomListKey)
}

func (d *CachedDirectory) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	defer d.invalidate(record.ID)
	return d.RoomDirectory.Upsert(ctx, record)
}

func (d *CachedDirectory) Remove(ctx context.Context, id domain.RoomID) error {
	defer d.invalidate(id)
	return d.RoomDirectory.Remove(ctx, id)
}

func (d *CachedDirectory) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	defer d.invalidate(id)
	return d.RoomDirectory.AddMember(ctx, id, conn)
}

func (d *CachedDirectory) RemoveMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	defer d.invalidate(id)
	return d.RoomDirectory.RemoveMember(ctx, id, conn)
}

// Get caches found rooms only; a missing room is looked up again next time.
func (d *CachedDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	records, err := d.cache.GetOrLoad(ctx, roomKey(id), func(ctx context.Context) ([]*domain.RoomRecord, error) {
		record, err := d.RoomDirectory.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return []*domain.RoomRecord{record}, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneRecord(records[0]), nil
}

func (d *CachedDirectory) List(ctx context.Context) ([]*domain.RoomRecord, error) {
	records, err := d.cache.GetOrLoad(ctx, roomListKey, d.RoomDirectory.List)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RoomRecord, len(records))
	for i, r := range records {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

// Close drops every cached entry and stops the sweeper. Reads after Close
// go to the underlying directory.
func (d *CachedDirectory) Close() {
	d.cache.Clear()
	d.cache.Stop()
}

func cloneRecord(r *domain.RoomRecord) *domain.RoomRecord {
	c := *r
	c.Members = append([]domain.ConnectionID(nil), r.Members...)
	return &c
}

var _ ports.RoomDirectory = (*CachedDirectory)(nil)
