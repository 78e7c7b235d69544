package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		ok       bool
	}{
		{StateConnecting, StateIdle, true},
		{StateConnecting, StateInRoom, false},
		{StateConnecting, StateClosed, true},
		{StateIdle, StateInRoom, true},
		{StateIdle, StateIdle, false},
		{StateInRoom, StateIdle, true},
		{StateInRoom, StateInRoom, true},
		{StateInRoom, StateClosed, true},
		{StateClosed, StateIdle, false},
		{StateClosed, StateInRoom, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestKindClassification(t *testing.T) {
	for _, k := range []Kind{KindOffer, KindAnswer, KindICECandidate} {
		assert.True(t, k.IsPointToPoint(), k)
		assert.False(t, k.IsOutboundOnly(), k)
	}
	for _, k := range []Kind{KindPeerJoined, KindPeerLeft} {
		assert.True(t, k.IsBroadcast(), k)
		assert.True(t, k.IsOutboundOnly(), k)
	}
	for _, k := range []Kind{KindJoin, KindLeave, KindHeartbeat} {
		assert.True(t, k.IsKnown(), k)
		assert.False(t, k.IsPointToPoint(), k)
		assert.False(t, k.IsOutboundOnly(), k)
	}
	assert.False(t, Kind("renegotiate").IsKnown())
	assert.False(t, Kind("").IsKnown())
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonCapacityExceeded, ReasonFor(fmt.Errorf("join: %w", ErrCapacityExceeded)))
	assert.Equal(t, ReasonNotInRoom, ReasonFor(ErrNotInRoom))
	assert.Equal(t, ReasonMalformedEnvelope, ReasonFor(ErrMalformedEnvelope))
	assert.Equal(t, ReasonRateLimited, ReasonFor(ErrRateLimited))
	assert.Equal(t, ReasonInternal, ReasonFor(errors.New("boom")))

	stale := fmt.Errorf("route: %w: %w", ErrInvalidTarget, ErrTransportClosed)
	assert.Equal(t, ReasonInvalidTarget, ReasonFor(stale))
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := Envelope{
		Kind:    KindICECandidate,
		Room:    "r1",
		Sender:  "a",
		Target:  "b",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122 10.0.0.1 5000 typ host"}`),
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind":"ice-candidate","room":"r1","sender":"a","target":"b",
		"payload":{"candidate":"candidate:1 1 UDP 2122 10.0.0.1 5000 typ host"}
	}`, string(data))

	var decoded Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"leave"}`), &decoded))
	assert.Equal(t, KindLeave, decoded.Kind)
	assert.Empty(t, decoded.Target)
	assert.Nil(t, decoded.Payload)
}

func TestServiceEnvelopes(t *testing.T) {
	joined := NewJoined("r1", "b", nil)
	assert.Equal(t, KindJoined, joined.Kind)
	assert.JSONEq(t, `{"connection_id":"b","members":[]}`, string(joined.Payload))

	peer := NewPeerLeft("r1", "a", "user-a")
	assert.JSONEq(t, `{"connection_id":"a","user_id":"user-a"}`, string(peer.Payload))

	welcome := NewWelcome("c1", "", 30*time.Second, 65536)
	assert.JSONEq(t, `{"connection_id":"c1","heartbeat_interval_ms":30000,"max_message_bytes":65536}`, string(welcome.Payload))

	errEnv := NewError(fmt.Errorf("route offer to b: %w", ErrInvalidTarget), "b")
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &p))
	assert.Equal(t, ReasonInvalidTarget, p.Reason)
	assert.Equal(t, ConnectionID("b"), p.Target)
	assert.Contains(t, p.Message, "invalid target")

	left := NewLeft("r1")
	assert.Equal(t, KindLeft, left.Kind)
	assert.Equal(t, RoomID("r1"), left.Room)
}
