package signal

import (
	"fmt"
	"sort"
	"sync"

	"roomsignal/internal/core/domain"
)

// ConnectionTable maps connection ids to live sessions. It is the Outbox the
// registry and router deliver through.
type ConnectionTable struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*Session
}

func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		sessions: make(map[domain.ConnectionID]*Session),
	}
}

// Deliver enqueues env on the target's outbound buffer without blocking.
func (t *ConnectionTable) Deliver(target domain.ConnectionID, env domain.Envelope) error {
	s := t.Get(target)
	if s == nil {
		return fmt.Errorf("connection %s: %w", target, domain.ErrTransportClosed)
	}
	return s.Enqueue(env)
}

func (t *ConnectionTable) UserOf(conn domain.ConnectionID) domain.UserID {
	if s := t.Get(conn); s != nil {
		return s.UserID()
	}
	return ""
}

func (t *ConnectionTable) Get(conn domain.ConnectionID) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[conn]
}

func (t *ConnectionTable) Add(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[s.ID()]; exists {
		return fmt.Errorf("connection %s already registered", s.ID())
	}
	t.sessions[s.ID()] = s
	return nil
}

// Remove drops conn only if it still maps to s, so a late removal never
// evicts a newer session reusing the id.
func (t *ConnectionTable) Remove(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.sessions[s.ID()]; ok && current == s {
		delete(t.sessions, s.ID())
	}
}

func (t *ConnectionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Sessions returns the live sessions ordered by id.
func (t *ConnectionTable) Sessions() []*Session {
	t.mu.RLock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
