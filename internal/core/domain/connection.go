package domain

import "time"

type ConnectionID string

type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateIdle
	StateInRoom
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// allowedTransitions lists the legal moves of the per-connection state machine.
// Closed is terminal.
var allowedTransitions = map[ConnectionState][]ConnectionState{
	StateConnecting: {StateIdle, StateClosed},
	StateIdle:       {StateInRoom, StateClosed},
	StateInRoom:     {StateIdle, StateInRoom, StateClosed},
}

// CanTransition reports whether a connection may move from one state to another.
// InRoom -> InRoom is a join into a different room.
func (s ConnectionState) CanTransition(to ConnectionState) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Connection struct {
	ID          ConnectionID
	UserID      UserID
	RoomID      RoomID
	State       ConnectionState
	ConnectedAt time.Time
	LastSeen    time.Time
}
