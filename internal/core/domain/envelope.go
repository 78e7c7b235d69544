package domain

import (
	"encoding/json"
	"time"
)

type Kind string

const (
	KindJoin         Kind = "join"
	KindLeave        Kind = "leave"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindPeerJoined   Kind = "peer-joined"
	KindPeerLeft     Kind = "peer-left"
	KindError        Kind = "error"

	KindHeartbeat Kind = "heartbeat"
	KindWelcome   Kind = "welcome"
	KindJoined    Kind = "joined"
	KindLeft      Kind = "left"
)

// IsPointToPoint reports whether envelopes of this kind name exactly one target.
func (k Kind) IsPointToPoint() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// IsBroadcast reports whether the kind is a membership broadcast.
func (k Kind) IsBroadcast() bool {
	return k == KindPeerJoined || k == KindPeerLeft
}

// IsOutboundOnly reports whether only the service may produce this kind.
func (k Kind) IsOutboundOnly() bool {
	switch k {
	case KindPeerJoined, KindPeerLeft, KindError, KindWelcome, KindJoined, KindLeft:
		return true
	}
	return false
}

// IsKnown reports whether k is part of the protocol.
func (k Kind) IsKnown() bool {
	switch k {
	case KindJoin, KindLeave, KindHeartbeat:
		return true
	}
	return k.IsPointToPoint() || k.IsOutboundOnly()
}

// Envelope is the unit of signaling traffic. Payload is opaque and relayed
// byte-for-byte; Sender is always stamped by the service.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Room    RoomID          `json:"room,omitempty"`
	Sender  ConnectionID    `json:"sender,omitempty"`
	Target  ConnectionID    `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PeerPayload struct {
	ConnectionID ConnectionID `json:"connection_id"`
	UserID       UserID       `json:"user_id,omitempty"`
}

type ErrorPayload struct {
	Reason  ErrorReason  `json:"reason"`
	Message string       `json:"message"`
	Target  ConnectionID `json:"target,omitempty"`
}

type JoinedPayload struct {
	ConnectionID ConnectionID   `json:"connection_id"`
	Members      []ConnectionID `json:"members"`
}

type WelcomePayload struct {
	ConnectionID      ConnectionID `json:"connection_id"`
	UserID            UserID       `json:"user_id,omitempty"`
	HeartbeatInterval int64        `json:"heartbeat_interval_ms"`
	MaxMessageBytes   int64        `json:"max_message_bytes,omitempty"`
}

// mustPayload marshals service-generated payloads, which are plain structs
// that cannot fail to encode.
func mustPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func NewPeerJoined(room RoomID, subject ConnectionID, user UserID) Envelope {
	return Envelope{
		Kind:    KindPeerJoined,
		Room:    room,
		Payload: mustPayload(PeerPayload{ConnectionID: subject, UserID: user}),
	}
}

func NewPeerLeft(room RoomID, subject ConnectionID, user UserID) Envelope {
	return Envelope{
		Kind:    KindPeerLeft,
		Room:    room,
		Payload: mustPayload(PeerPayload{ConnectionID: subject, UserID: user}),
	}
}

func NewJoined(room RoomID, self ConnectionID, members []ConnectionID) Envelope {
	if members == nil {
		members = []ConnectionID{}
	}
	return Envelope{
		Kind:    KindJoined,
		Room:    room,
		Payload: mustPayload(JoinedPayload{ConnectionID: self, Members: members}),
	}
}

func NewLeft(room RoomID) Envelope {
	return Envelope{Kind: KindLeft, Room: room}
}

func NewWelcome(id ConnectionID, user UserID, heartbeat time.Duration, maxMessage int64) Envelope {
	return Envelope{
		Kind: KindWelcome,
		Payload: mustPayload(WelcomePayload{
			ConnectionID:      id,
			UserID:            user,
			HeartbeatInterval: heartbeat.Milliseconds(),
			MaxMessageBytes:   maxMessage,
		}),
	}
}

// NewError builds the error envelope for err. The reason is derived from the
// error chain; target is set when the failure concerns a specific recipient.
func NewError(err error, target ConnectionID) Envelope {
	return Envelope{
		Kind: KindError,
		Payload: mustPayload(ErrorPayload{
			Reason:  ReasonFor(err),
			Message: err.Error(),
			Target:  target,
		}),
	}
}
