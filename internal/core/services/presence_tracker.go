package services

import (
	"sync"
	"time"

	"roomsignal/internal/core/domain"
)

// PresenceTracker is a best-effort failure detector. A tracked connection
// that shows no liveness signal for twice the heartbeat interval expires and
// its callback runs once on a timer goroutine.
type PresenceTracker struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[domain.ConnectionID]*presenceEntry
}

type presenceEntry struct {
	lastSeen time.Time
	timer    *time.Timer
}

func NewPresenceTracker(interval time.Duration) *PresenceTracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PresenceTracker{
		interval: interval,
		now:      time.Now,
		entries:  make(map[domain.ConnectionID]*presenceEntry),
	}
}

func (p *PresenceTracker) Interval() time.Duration {
	return p.interval
}

// Timeout is the silence after which a connection is considered dead.
func (p *PresenceTracker) Timeout() time.Duration {
	return 2 * p.interval
}

// Track starts watching conn. Tracking an already tracked connection replaces
// its callback and restarts the timer.
func (p *PresenceTracker) Track(conn domain.ConnectionID, onExpire func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.entries[conn]; ok {
		old.timer.Stop()
	}

	entry := &presenceEntry{lastSeen: p.now()}
	entry.timer = time.AfterFunc(p.Timeout(), func() {
		p.mu.Lock()
		current, ok := p.entries[conn]
		if !ok || current != entry {
			p.mu.Unlock()
			return
		}
		delete(p.entries, conn)
		p.mu.Unlock()

		if onExpire != nil {
			onExpire()
		}
	})
	p.entries[conn] = entry
}

// Touch records a liveness signal and pushes the deadline out.
func (p *PresenceTracker) Touch(conn domain.ConnectionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conn]
	if !ok {
		return
	}
	entry.lastSeen = p.now()
	entry.timer.Reset(p.Timeout())
}

func (p *PresenceTracker) Forget(conn domain.ConnectionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[conn]; ok {
		entry.timer.Stop()
		delete(p.entries, conn)
	}
}

func (p *PresenceTracker) LastSeen(conn domain.ConnectionID) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conn]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastSeen, true
}

func (p *PresenceTracker) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
