package services

import (
	"context"
	"testing"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDirectory struct {
	mock.Mock
	ports.RoomDirectory
}

func (m *mockDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	args := m.Called(ctx, id)
	record, _ := args.Get(0).(*domain.RoomRecord)
	return record, args.Error(1)
}

func (m *mockDirectory) List(ctx context.Context) ([]*domain.RoomRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]*domain.RoomRecord)
	return records, args.Error(1)
}

func (m *mockDirectory) AddMember(ctx context.Context, id domain.RoomID, conn domain.ConnectionID) error {
	return m.Called(ctx, id, conn).Error(0)
}

func TestCachedDirectory_GetIsCachedUntilWrite(t *testing.T) {
	ctx := context.Background()
	base := &mockDirectory{}
	dir := NewCachedDirectory(base, time.Minute)
	defer dir.Close()

	lobby := &domain.RoomRecord{ID: "lobby", Members: []domain.ConnectionID{"a"}}
	base.On("Get", mock.Anything, domain.RoomID("lobby")).Return(lobby, nil).Twice()
	base.On("AddMember", mock.Anything, domain.RoomID("lobby"), domain.ConnectionID("b")).Return(nil).Once()

	got, err := dir.Get(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"a"}, got.Members)

	got.Members[0] = "mutated"
	got, err = dir.Get(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"a"}, got.Members, "callers get copies")

	require.NoError(t, dir.AddMember(ctx, "lobby", "b"))
	_, err = dir.Get(ctx, "lobby")
	require.NoError(t, err)

	base.AssertExpectations(t)
}

func TestCachedDirectory_MissingRoomIsNotCached(t *testing.T) {
	ctx := context.Background()
	base := &mockDirectory{}
	dir := NewCachedDirectory(base, time.Minute)
	defer dir.Close()

	base.On("Get", mock.Anything, domain.RoomID("ghost")).Return(nil, domain.ErrRoomNotFound).Twice()

	_, err := dir.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = dir.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	base.AssertExpectations(t)
}

func TestCachedDirectory_List(t *testing.T) {
	ctx := context.Background()
	base := &mockDirectory{}
	dir := NewCachedDirectory(base, time.Minute)
	defer dir.Close()

	base.On("List", mock.Anything).Return([]*domain.RoomRecord{{ID: "a"}, {ID: "b"}}, nil).Once()

	for i := 0; i < 3; i++ {
		rooms, err := dir.List(ctx)
		require.NoError(t, err)
		assert.Len(t, rooms, 2)
	}
	base.AssertExpectations(t)
}

func TestCachedDirectory_CloseDropsEntries(t *testing.T) {
	ctx := context.Background()
	base := &mockDirectory{}
	dir := NewCachedDirectory(base, time.Minute)

	lobby := &domain.RoomRecord{ID: "lobby"}
	base.On("Get", mock.Anything, domain.RoomID("lobby")).Return(lobby, nil).Twice()

	_, err := dir.Get(ctx, "lobby")
	require.NoError(t, err)
	_, err = dir.Get(ctx, "lobby")
	require.NoError(t, err)
	base.AssertNumberOfCalls(t, "Get", 1)

	dir.Close()
	_, err = dir.Get(ctx, "lobby")
	require.NoError(t, err)
	base.AssertExpectations(t)
}
