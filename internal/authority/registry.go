package authority

import (
	"sync"
	"time"

	"tabletop-sync/internal/metrics"
	"tabletop-sync/internal/protocol"
)

const defaultWindow = 20 * time.Second

// Binding is a point-in-time view of a session's authority.
type Binding struct {
	SessionID string
	Conn      protocol.Peer
	Epoch     uint64
	LastSeen  time.Time
}

// Registry maps each session to at most one authority connection. Epochs
// survive unregistration so a reconnecting authority always gets a higher one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	window   time.Duration
	now      func() time.Time
}

type entry struct {
	mu       sync.Mutex
	conn     protocol.Peer
	epoch    uint64
	lastSeen time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a registry whose liveness window is window (normally twice the
// heartbeat interval).
func New(window time.Duration, opts ...Option) *Registry {
	if window <= 0 {
		window = defaultWindow
	}
	r := &Registry{
		sessions: map[string]*entry{},
		window:   window,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Window() time.Duration { return r.window }

func (r *Registry) entry(sessionID string, create bool) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.sessions[sessionID]
	if e == nil && create {
		e = &entry{}
		r.sessions[sessionID] = e
	}
	return e
}

// Register binds conn as the session authority and returns the new epoch.
// A previous binding is replaced.
func (r *Registry) Register(sessionID string, conn protocol.Peer) uint64 {
	e := r.entry(sessionID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		metrics.BoundAuthorities.Inc()
	}
	e.epoch++
	e.conn = conn
	e.lastSeen = r.now()
	return e.epoch
}

func (r *Registry) Resolve(sessionID string) (protocol.Peer, bool) {
	e := r.entry(sessionID, false)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// Unregister clears the binding only when conn is the one registered, so a
// stale connection cannot evict its successor. It returns the epoch conn
// held.
func (r *Registry) Unregister(sessionID string, conn protocol.Peer) (uint64, bool) {
	e := r.entry(sessionID, false)
	if e == nil || conn == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || e.conn.ID() != conn.ID() {
		return 0, false
	}
	e.conn = nil
	metrics.BoundAuthorities.Dec()
	return e.epoch, true
}

func (r *Registry) IsLive(sessionID string) bool {
	e := r.entry(sessionID, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && r.now().Sub(e.lastSeen) <= r.window
}

// Touch refreshes last-seen when epoch is current. Stale epochs are ignored.
func (r *Registry) Touch(sessionID string, epoch uint64) bool {
	e := r.entry(sessionID, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || e.epoch != epoch {
		return false
	}
	e.lastSeen = r.now()
	return true
}

// Expire clears the binding if it has outlived the liveness window and
// returns what was removed.
func (r *Registry) Expire(sessionID string) (Binding, bool) {
	e := r.entry(sessionID, false)
	if e == nil {
		return Binding{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || r.now().Sub(e.lastSeen) <= r.window {
		return Binding{}, false
	}
	b := Binding{SessionID: sessionID, Conn: e.conn, Epoch: e.epoch, LastSeen: e.lastSeen}
	e.conn = nil
	metrics.BoundAuthorities.Dec()
	return b, true
}

func (r *Registry) Epoch(sessionID string) uint64 {
	e := r.entry(sessionID, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

func (r *Registry) Binding(sessionID string) (Binding, bool) {
	e := r.entry(sessionID, false)
	if e == nil {
		return Binding{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return Binding{}, false
	}
	return Binding{SessionID: sessionID, Conn: e.conn, Epoch: e.epoch, LastSeen: e.lastSeen}, true
}

// Bindings snapshots every bound session.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make([]Binding, 0, len(ids))
	for _, id := range ids {
		if b, ok := r.Binding(id); ok {
			out = append(out, b)
		}
	}
	return out
}

// Forget drops all bookkeeping for an ended session.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	e := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.conn != nil {
		e.conn = nil
		metrics.BoundAuthorities.Dec()
	}
	e.mu.Unlock()
}
