package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to ROOMSIGNAL_TEST_REDIS (e.g. localhost:6379, db 15)
// and skips when it is unset.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ROOMSIGNAL_TEST_REDIS")
	if addr == "" {
		t.Skip("ROOMSIGNAL_TEST_REDIS not set")
	}

	client, err := NewRedisClient(addr, "", 15, 4, nil)
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = CloseRedisClient(client)
	})
	return client
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "roomsignal:room:lobby", roomKey("lobby"))
	assert.Equal(t, "roomsignal:room:lobby:members", membersKey("lobby"))
}

func TestRedisRoomDirectory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	dir := NewRedisRoomDirectory(client)

	created := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, dir.Upsert(ctx, &domain.RoomRecord{
		ID: "lobby", InstanceID: "node-1", CreatedAt: created, UpdatedAt: created,
	}))
	require.NoError(t, dir.AddMember(ctx, "lobby", "a"))
	require.NoError(t, dir.AddMember(ctx, "lobby", "b"))

	rec, err := dir.Get(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "node-1", rec.InstanceID)
	assert.True(t, created.Equal(rec.CreatedAt))
	assert.Equal(t, []domain.ConnectionID{"a", "b"}, rec.Members)

	require.NoError(t, dir.RemoveMember(ctx, "lobby", "a"))
	rooms, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []domain.ConnectionID{"b"}, rooms[0].Members)

	require.NoError(t, dir.Remove(ctx, "lobby"))
	_, err = dir.Get(ctx, "lobby")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.NoError(t, dir.HealthCheck(ctx))
}

func TestMigrate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	require.NoError(t, Migrate(ctx, client, nil))
	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestMigrate_ConvertsPlainMemberSets(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	require.NoError(t, client.Set(ctx, schemaVersionKey, 1, 0).Err())
	require.NoError(t, client.SAdd(ctx, roomsIndexKey, "legacy").Err())
	require.NoError(t, client.HSet(ctx, roomKey("legacy"), "instance_id", "old").Err())
	require.NoError(t, client.SAdd(ctx, membersKey("legacy"), "x").Err())

	require.NoError(t, Migrate(ctx, client, nil))

	kind, err := client.Type(ctx, membersKey("legacy")).Result()
	require.NoError(t, err)
	assert.Equal(t, "zset", kind)

	rec, err := NewRedisRoomDirectory(client).Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"x"}, rec.Members)
}
