package services

import (
	"context"
	"sync/atomic"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"

	"go.uber.org/zap"
)

// DirectoryMirror copies registry membership changes into a RoomDirectory and
// optionally an event bus. It is a ports.RoomObserver: callbacks only enqueue,
// a single worker applies events in order.
type DirectoryMirror struct {
	directory  ports.RoomDirectory
	publisher  ports.RoomEventPublisher
	instanceID string
	logger     *zap.SugaredLogger

	queue   chan domain.RoomEvent
	dropped atomic.Int64
	onDrop  func()
	now     func() time.Time
}

func NewDirectoryMirror(
	directory ports.RoomDirectory,
	publisher ports.RoomEventPublisher,
	instanceID string,
	queueSize int,
	logger *zap.SugaredLogger,
) *DirectoryMirror {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DirectoryMirror{
		directory:  directory,
		publisher:  publisher,
		instanceID: instanceID,
		logger:     logger,
		queue:      make(chan domain.RoomEvent, queueSize),
		now:        time.Now,
	}
}

// OnDrop registers a hook called whenever an event is discarded because the
// queue is full.
func (m *DirectoryMirror) OnDrop(fn func()) {
	m.onDrop = fn
}

func (m *DirectoryMirror) RoomCreated(room domain.RoomID, at time.Time) {
	m.enqueue(domain.RoomEvent{Type: domain.EventRoomCreated, RoomID: room, Timestamp: at})
}

func (m *DirectoryMirror) RoomRemoved(room domain.RoomID) {
	m.enqueue(domain.RoomEvent{Type: domain.EventRoomRemoved, RoomID: room, Timestamp: m.now()})
}

func (m *DirectoryMirror) MemberJoined(room domain.RoomID, conn domain.ConnectionID) {
	m.enqueue(domain.RoomEvent{Type: domain.EventMemberJoined, RoomID: room, ConnectionID: conn, Timestamp: m.now()})
}

func (m *DirectoryMirror) MemberLeft(room domain.RoomID, conn domain.ConnectionID, reason domain.LeaveReason) {
	m.enqueue(domain.RoomEvent{
		Type:         domain.EventMemberLeft,
		RoomID:       room,
		ConnectionID: conn,
		Reason:       reason,
		Timestamp:    m.now(),
	})
}

func (m *DirectoryMirror) Dropped() int64 {
	return m.dropped.Load()
}

func (m *DirectoryMirror) enqueue(ev domain.RoomEvent) {
	ev.InstanceID = m.instanceID
	select {
	case m.queue <- ev:
	default:
		m.dropped.Add(1)
		if m.onDrop != nil {
			m.onDrop()
		}
	}
}

// Run applies queued events until ctx is cancelled, then drains whatever is
// already queued using drainTimeout as the budget.
func (m *DirectoryMirror) Run(ctx context.Context, drainTimeout time.Duration) {
	for {
		select {
		case ev := <-m.queue:
			m.apply(ctx, ev)
		case <-ctx.Done():
			m.drain(drainTimeout)
			return
		}
	}
}

func (m *DirectoryMirror) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		select {
		case ev := <-m.queue:
			m.apply(ctx, ev)
		default:
			return
		}
	}
}

func (m *DirectoryMirror) apply(ctx context.Context, ev domain.RoomEvent) {
	var err error
	switch ev.Type {
	case domain.EventRoomCreated:
		err = m.directory.Upsert(ctx, &domain.RoomRecord{
			ID:         ev.RoomID,
			InstanceID: m.instanceID,
			Members:    []domain.ConnectionID{},
			CreatedAt:  ev.Timestamp,
			UpdatedAt:  ev.Timestamp,
		})
	case domain.EventRoomRemoved:
		err = m.directory.Remove(ctx, ev.RoomID)
	case domain.EventMemberJoined:
		err = m.directory.AddMember(ctx, ev.RoomID, ev.ConnectionID)
	case domain.EventMemberLeft:
		err = m.directory.RemoveMember(ctx, ev.RoomID, ev.ConnectionID)
	}
	if err != nil {
		m.logger.Warnw("failed to mirror room event",
			"type", ev.Type,
			"room_id", ev.RoomID,
			"connection_id", ev.ConnectionID,
			"error", err,
		)
	}

	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, &ev); err != nil {
		m.logger.Warnw("failed to publish room event",
			"type", ev.Type,
			"room_id", ev.RoomID,
			"error", err,
		)
	}
}
