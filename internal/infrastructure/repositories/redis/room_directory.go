package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisRoomDirectory stores one hash per room, a sorted set of members scored
// by join time and a set indexing all room ids.
type RedisRoomDirectory struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRoomDirectory(client *redis.Client) ports.RoomDirectory {
	return &RedisRoomDirectory{
		client: client,
		now:    time.Now,
	}
}

func roomKey(id string) string {
	return keyPrefix + "room:" + id
}

func membersKey(id string) string {
	return roomKey(id) + ":members"
}

func (r *RedisRoomDirectory) Upsert(ctx context.Context, record *domain.RoomRecord) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "upsert", "redis")
	defer span.End()

	id := string(record.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(id),
			"instance_id", record.InstanceID,
			"updated_at", record.UpdatedAt.Format(time.RFC3339Nano),
		)
		pipe.HSetNX(ctx, roomKey(id), "created_at", record.CreatedAt.Format(time.RFC3339Nano))
		for i, m := range record.Members {
			pipe.ZAddNX(ctx, membersKey(id), redis.Z{
				Score:  float64(record.CreatedAt.UnixNano() + int64(i)),
				Member: string(m),
			})
		}
		pipe.SAdd(ctx, roomsIndexKey, id)
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to upsert room %s: %w", id, err)
	}
	return nil
}

func (r *RedisRoomDirectory) Remove(ctx context.Context, id domain.RoomID) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "remove", "redis")
	defer span.End()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(string(id)), membersKey(string(id)))
		pipe.SRem(ctx, roomsIndexKey, string(id))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to remove room %s: %w", id, err)
	}
	return nil
}

func (r *RedisRoomDirectory) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "add_member", "redis")
	defer span.End()

	now := r.now()
	stamp := now.Format(time.RFC3339Nano)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, membersKey(string(id)), redis.Z{Score: float64(now.UnixNano()), Member: string(conn)})
		pipe.HSetNX(ctx, roomKey(string(id)), "created_at", stamp)
		pipe.HSet(ctx, roomKey(string(id)), "updated_at", stamp)
		pipe.SAdd(ctx, roomsIndexKey, string(id))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to add member %s to room %s: %w", conn, id, err)
	}
	return nil
}

func (r *RedisRoomDirectory) RemoveMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "remove_member", "redis")
	defer span.End()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, membersKey(string(id)), string(conn))
		pipe.HSet(ctx, roomKey(string(id)), "updated_at", r.now().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to remove member %s from room %s: %w", conn, id, err)
	}
	return nil
}

func (r *RedisRoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "get", "redis")
	defer span.End()

	var fields *redis.MapStringStringCmd
	var members *redis.StringSliceCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, roomKey(string(id)))
		members = pipe.ZRange(ctx, membersKey(string(id)), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get room %s: %w", id, err)
	}

	values := fields.Val()
	if len(values) == 0 {
		return nil, domain.ErrRoomNotFound
	}

	record := &domain.RoomRecord{
		ID:         id,
		InstanceID: values["instance_id"],
		Members:    make([]domain.ConnectionID, 0, len(members.Val())),
	}
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, values["created_at"])
	record.UpdatedAt, _ = time.Parse(time.RFC3339Nano, values["updated_at"])
	for _, m := range members.Val() {
		record.Members = append(record.Members, domain.ConnectionID(m))
	}
	return record, nil
}

func (r *RedisRoomDirectory) List(ctx context.Context) ([]*domain.RoomRecord, error) {
	ids, err := r.client.SMembers(ctx, roomsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	sort.Strings(ids)

	rooms := make([]*domain.RoomRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.Get(ctx, domain.RoomID(id))
		if errors.Is(err, domain.ErrRoomNotFound) {
			// index entry outlived its hash
			r.client.SRem(ctx, roomsIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, record)
	}
	return rooms, nil
}

func (r *RedisRoomDirectory) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
