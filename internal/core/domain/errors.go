package domain

import "errors"

var (
	ErrCapacityExceeded  = errors.New("room capacity exceeded")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrNotInRoom         = errors.New("not in room")
	ErrTransportClosed   = errors.New("transport closed")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrRateLimited       = errors.New("rate limited")
	ErrRoomNotFound      = errors.New("room not found")
)

// ErrorReason is the machine-readable code carried by error envelopes.
type ErrorReason string

const (
	ReasonCapacityExceeded  ErrorReason = "CapacityExceeded"
	ReasonInvalidTarget     ErrorReason = "InvalidTarget"
	ReasonNotInRoom         ErrorReason = "NotInRoom"
	ReasonMalformedEnvelope ErrorReason = "MalformedEnvelope"
	ReasonRateLimited       ErrorReason = "RateLimited"
	ReasonInternal          ErrorReason = "Internal"
)

// ReasonFor maps an error chain to the wire reason code. InvalidTarget wins
// over TransportClosed so a stale target is reported as the sender's addressing
// problem.
func ReasonFor(err error) ErrorReason {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return ReasonCapacityExceeded
	case errors.Is(err, ErrInvalidTarget):
		return ReasonInvalidTarget
	case errors.Is(err, ErrNotInRoom):
		return ReasonNotInRoom
	case errors.Is(err, ErrMalformedEnvelope):
		return ReasonMalformedEnvelope
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonInternal
	}
}
