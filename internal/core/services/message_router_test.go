package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"roomsignal/internal/core/domain"
	"roomsignal/pkg/validation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouterFixture(t *testing.T) (*RoomRegistry, *recordingOutbox, func(domain.ConnectionID, domain.Envelope) error) {
	t.Helper()
	ctx := context.Background()
	outbox := newRecordingOutbox()
	reg := NewRoomRegistry(outbox)
	router := NewMessageRouter(reg, outbox, nil)

	_, err := reg.Join(ctx, "r1", "a")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "r1", "b")
	require.NoError(t, err)
	_, err = reg.Join(ctx, "r2", "c")
	require.NoError(t, err)
	outbox.reset()

	return reg, outbox, func(sender domain.ConnectionID, env domain.Envelope) error {
		return router.Route(ctx, sender, env)
	}
}

func TestMessageRouter_PointToPointDeliveredOnce(t *testing.T) {
	_, outbox, route := newRouterFixture(t)
	payload := json.RawMessage(`{"sdp":"v=0\r\no=- 1 2 IN IP4 0.0.0.0","type":"offer"}`)

	err := route("a", domain.Envelope{Kind: domain.KindOffer, Target: "b", Payload: payload})
	require.NoError(t, err)

	got := outbox.received("b")
	require.Len(t, got, 1)
	assert.Equal(t, domain.KindOffer, got[0].Kind)
	assert.Equal(t, domain.ConnectionID("a"), got[0].Sender)
	assert.Equal(t, domain.RoomID("r1"), got[0].Room)
	assert.Equal(t, string(payload), string(got[0].Payload))
	assert.Empty(t, outbox.received("a"))
	assert.Empty(t, outbox.received("c"))
}

func TestMessageRouter_SenderIsAlwaysStamped(t *testing.T) {
	_, outbox, route := newRouterFixture(t)

	err := route("a", domain.Envelope{Kind: domain.KindAnswer, Target: "b", Sender: "c", Room: "r2"})
	require.NoError(t, err)

	got := outbox.received("b")
	require.Len(t, got, 1)
	assert.Equal(t, domain.ConnectionID("a"), got[0].Sender)
	assert.Equal(t, domain.RoomID("r1"), got[0].Room)
}

func TestMessageRouter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		sender domain.ConnectionID
		env    domain.Envelope
		want   error
		reason domain.ErrorReason
	}{
		{
			name:   "sender not in a room",
			sender: "ghost",
			env:    domain.Envelope{Kind: domain.KindOffer, Target: "a"},
			want:   domain.ErrNotInRoom,
			reason: domain.ReasonNotInRoom,
		},
		{
			name:   "target in another room",
			sender: "a",
			env:    domain.Envelope{Kind: domain.KindICECandidate, Target: "c"},
			want:   domain.ErrInvalidTarget,
			reason: domain.ReasonInvalidTarget,
		},
		{
			name:   "unknown target",
			sender: "a",
			env:    domain.Envelope{Kind: domain.KindOffer, Target: "nobody"},
			want:   domain.ErrInvalidTarget,
			reason: domain.ReasonInvalidTarget,
		},
		{
			name:   "target is self",
			sender: "a",
			env:    domain.Envelope{Kind: domain.KindOffer, Target: "a"},
			want:   domain.ErrInvalidTarget,
			reason: domain.ReasonInvalidTarget,
		},
		{
			name:   "missing target",
			sender: "a",
			env:    domain.Envelope{Kind: domain.KindAnswer},
			want:   domain.ErrMalformedEnvelope,
			reason: domain.ReasonMalformedEnvelope,
		},
		{
			name:   "unknown kind",
			sender: "a",
			env:    domain.Envelope{Kind: "renegotiate", Target: "b"},
			want:   domain.ErrMalformedEnvelope,
			reason: domain.ReasonMalformedEnvelope,
		},
		{
			name:   "session kind",
			sender: "a",
			env:    domain.Envelope{Kind: domain.KindJoin, Room: "r1"},
			want:   domain.ErrMalformedEnvelope,
			reason: domain.ReasonMalformedEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, outbox, route := newRouterFixture(t)
			err := route(tt.sender, tt.env)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, domain.ReasonFor(err))
			assert.Empty(t, outbox.ordered, "failed routes must not deliver")
		})
	}
}

func TestMessageRouter_ClientBroadcastKindsAreDropped(t *testing.T) {
	_, outbox, route := newRouterFixture(t)

	for _, kind := range []domain.Kind{domain.KindPeerJoined, domain.KindPeerLeft, domain.KindError, domain.KindJoined} {
		err := route("a", domain.Envelope{Kind: kind, Target: "b"})
		assert.NoError(t, err, "kind %s", kind)
	}
	assert.Empty(t, outbox.ordered)
}

func TestMessageRouter_ClosedTargetReportsInvalidTarget(t *testing.T) {
	_, outbox, route := newRouterFixture(t)
	outbox.close("b")

	err := route("a", domain.Envelope{Kind: domain.KindOffer, Target: "b"})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
	assert.Equal(t, domain.ReasonInvalidTarget, domain.ReasonFor(err))
}

func TestMessageRouter_StaleTargetAfterLeave(t *testing.T) {
	reg, _, route := newRouterFixture(t)
	reg.Leave(context.Background(), "b", domain.LeaveClosed)

	err := route("a", domain.Envelope{Kind: domain.KindAnswer, Target: "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestMessageRouter_PreservesPerPairOrder(t *testing.T) {
	_, outbox, route := newRouterFixture(t)

	const n = 200
	for i := 0; i < n; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		require.NoError(t, route("a", domain.Envelope{Kind: domain.KindICECandidate, Target: "b", Payload: payload}))
	}

	got := outbox.received("b")
	require.Len(t, got, n)
	for i, env := range got {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(env.Payload))
	}
}

func TestMessageRouter_ConcurrentSenders(t *testing.T) {
	ctx := context.Background()
	outbox := newRecordingOutbox()
	reg := NewRoomRegistry(outbox)
	router := NewMessageRouter(reg, outbox, nil)

	senders := []domain.ConnectionID{"s1", "s2", "s3", "s4"}
	_, _ = reg.Join(ctx, "r", "sink")
	for _, s := range senders {
		_, _ = reg.Join(ctx, "r", s)
	}
	outbox.reset()

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s domain.ConnectionID) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				payload := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
				assert.NoError(t, router.Route(ctx, s, domain.Envelope{Kind: domain.KindOffer, Target: "sink", Payload: payload}))
			}
		}(s)
	}
	wg.Wait()

	next := make(map[domain.ConnectionID]int)
	for _, env := range outbox.received("sink") {
		var p struct{ Seq int }
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, next[env.Sender], p.Seq, "sender %s out of order", env.Sender)
		next[env.Sender]++
	}
	for _, s := range senders {
		assert.Equal(t, 100, next[s])
	}
}

func TestMessageRouter_TargetCheck(t *testing.T) {
	ctx := context.Background()
	outbox := newRecordingOutbox()
	reg := NewRoomRegistry(outbox)
	router := NewMessageRouter(reg, outbox, nil, WithTargetCheck(validation.ValidateConnectionID))

	a, b := domain.ConnectionID(uuid.NewString()), domain.ConnectionID(uuid.NewString())
	_, err := reg.Join(ctx, "r1", a)
	require.NoError(t, err)
	_, err = reg.Join(ctx, "r1", b)
	require.NoError(t, err)
	outbox.reset()

	err = router.Route(ctx, a, domain.Envelope{Kind: domain.KindOffer, Target: "peer_123"})
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	assert.Equal(t, domain.ReasonInvalidTarget, domain.ReasonFor(err))

	require.NoError(t, router.Route(ctx, a, domain.Envelope{Kind: domain.KindAnswer, Target: b}))
	assert.Len(t, outbox.received(b), 1)
	assert.Empty(t, outbox.received("peer_123"))
}
