package services

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"roomsignal/internal/core/domain"

	"github.com/stretchr/testify/require"
)

// recordingOutbox captures deliveries per target. Targets marked closed
// reject deliveries the way a torn-down session does.
type recordingOutbox struct {
	mu      sync.Mutex
	inbox   map[domain.ConnectionID][]domain.Envelope
	closed  map[domain.ConnectionID]bool
	users   map[domain.ConnectionID]domain.UserID
	ordered []delivery
}

type delivery struct {
	target domain.ConnectionID
	env    domain.Envelope
}

func newRecordingOutbox() *recordingOutbox {
	return &recordingOutbox{
		inbox:  make(map[domain.ConnectionID][]domain.Envelope),
		closed: make(map[domain.ConnectionID]bool),
		users:  make(map[domain.ConnectionID]domain.UserID),
	}
}

func (o *recordingOutbox) Deliver(target domain.ConnectionID, env domain.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed[target] {
		return domain.ErrTransportClosed
	}
	o.inbox[target] = append(o.inbox[target], env)
	o.ordered = append(o.ordered, delivery{target: target, env: env})
	return nil
}

func (o *recordingOutbox) UserOf(conn domain.ConnectionID) domain.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.users[conn]
}

func (o *recordingOutbox) close(conn domain.ConnectionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed[conn] = true
}

func (o *recordingOutbox) received(conn domain.ConnectionID) []domain.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Envelope, len(o.inbox[conn]))
	copy(out, o.inbox[conn])
	return out
}

func (o *recordingOutbox) kinds(conn domain.ConnectionID) []domain.Kind {
	var kinds []domain.Kind
	for _, env := range o.received(conn) {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inbox = make(map[domain.ConnectionID][]domain.Envelope)
	o.ordered = nil
}

func peerOf(t *testing.T, env domain.Envelope) domain.PeerPayload {
	t.Helper()
	var p domain.PeerPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

type observedEvent struct {
	kind   string
	room   domain.RoomID
	conn   domain.ConnectionID
	reason domain.LeaveReason
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observedEvent
}

func (o *recordingObserver) add(ev observedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) RoomCreated(room domain.RoomID, _ time.Time) {
	o.add(observedEvent{kind: "created", room: room})
}

func (o *recordingObserver) RoomRemoved(room domain.RoomID) {
	o.add(observedEvent{kind: "removed", room: room})
}

func (o *recordingObserver) MemberJoined(room domain.RoomID, conn domain.ConnectionID) {
	o.add(observedEvent{kind: "joined", room: room, conn: conn})
}

func (o *recordingObserver) MemberLeft(room domain.RoomID, conn domain.ConnectionID, reason domain.LeaveReason) {
	o.add(observedEvent{kind: "left", room: room, conn: conn, reason: reason})
}

func (o *recordingObserver) snapshot() []observedEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]observedEvent, len(o.events))
	copy(out, o.events)
	return out
}
