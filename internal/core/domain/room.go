package domain

import "time"

type RoomID string

// Room is a read-only snapshot of a room's membership.
type Room struct {
	ID        RoomID
	Members   []ConnectionID // join order
	CreatedAt time.Time
}

// LeaveReason records why a connection left its room.
type LeaveReason string

const (
	LeaveExplicit LeaveReason = "explicit"
	LeaveSwitch   LeaveReason = "switch"
	LeaveEvicted  LeaveReason = "evicted"
	LeaveClosed   LeaveReason = "closed"
)

// RoomRecord is the directory's view of a room, possibly owned by another instance.
type RoomRecord struct {
	ID         RoomID         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Members    []ConnectionID `json:"members"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type RoomEventType string

const (
	EventRoomCreated  RoomEventType = "room.created"
	EventRoomRemoved  RoomEventType = "room.removed"
	EventMemberJoined RoomEventType = "member.joined"
	EventMemberLeft   RoomEventType = "member.left"
)

// RoomEvent describes one applied membership change.
type RoomEvent struct {
	Type         RoomEventType `json:"type"`
	InstanceID   string        `json:"instance_id,omitempty"`
	RoomID       RoomID        `json:"room_id"`
	ConnectionID ConnectionID  `json:"connection_id,omitempty"`
	Reason       LeaveReason   `json:"reason,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
