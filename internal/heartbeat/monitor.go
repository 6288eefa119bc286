package heartbeat

import (
	"context"
	"time"

	"tabletop-sync/internal/authority"
	"tabletop-sync/internal/metrics"
	"tabletop-sync/internal/protocol"

	"github.com/rs/zerolog/log"
)

const defaultInterval = 10 * time.Second

const (
	ReasonExpired      = "expired"
	ReasonDisconnected = "disconnected"
)

// Loss describes an authority that was demoted.
type Loss struct {
	SessionID string
	ConnID    string
	Epoch     uint64
	Reason    string
}

// Listener is told about every authority loss after the registry has been
// cleared.
type Listener interface {
	AuthorityLost(loss Loss)
}

// SyncTracker is the part of the session directory the monitor needs.
type SyncTracker interface {
	MarkAwaitingSync(sessionID string)
	SyncStatus(sessionID string) (version string, awaiting bool)
}

type Monitor struct {
	registry  *authority.Registry
	sessions  SyncTracker
	listeners []Listener
	interval  time.Duration
}

func NewMonitor(reg *authority.Registry, sessions SyncTracker, interval time.Duration, listeners ...Listener) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		registry:  reg,
		sessions:  sessions,
		listeners: listeners,
		interval:  interval,
	}
}

func (m *Monitor) Interval() time.Duration { return m.interval }

// AddListener must be called before Start.
func (m *Monitor) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Start pings every bound authority and sweeps expired ones once per interval
// until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
				m.PingAll()
			}
		}
	}()
}

func (m *Monitor) PingAll() {
	for _, b := range m.registry.Bindings() {
		m.ping(b.SessionID, b.Conn, b.Epoch)
	}
}

func (m *Monitor) ping(sessionID string, conn protocol.Peer, epoch uint64) {
	err := conn.Send(protocol.HeartbeatPing{Type: protocol.TypeHeartbeatPing, SessionID: sessionID, Epoch: epoch})
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Str("conn_id", conn.ID()).Msg("heartbeat ping failed")
		return
	}
	metrics.Heartbeats.WithLabelValues("ping").Inc()
}

// OnPong refreshes liveness. Pongs carrying a superseded epoch are ignored.
func (m *Monitor) OnPong(sessionID string, epoch uint64) bool {
	if !m.registry.Touch(sessionID, epoch) {
		metrics.Heartbeats.WithLabelValues("stale_pong").Inc()
		log.Debug().Str("session_id", sessionID).Uint64("epoch", epoch).Msg("stale heartbeat pong ignored")
		return false
	}
	metrics.Heartbeats.WithLabelValues("pong").Inc()
	return true
}

// Sweep demotes every authority that missed its liveness window and returns
// the affected session ids.
func (m *Monitor) Sweep() []string {
	var lost []string
	for _, b := range m.registry.Bindings() {
		expired, ok := m.registry.Expire(b.SessionID)
		if !ok {
			continue
		}
		m.lose(Loss{SessionID: expired.SessionID, ConnID: expired.Conn.ID(), Epoch: expired.Epoch, Reason: ReasonExpired})
		lost = append(lost, expired.SessionID)
	}
	return lost
}

// Release demotes conn after its transport closed. It is a no-op when conn is
// no longer the registered authority.
func (m *Monitor) Release(sessionID string, conn protocol.Peer) bool {
	epoch, ok := m.registry.Unregister(sessionID, conn)
	if !ok {
		return false
	}
	m.lose(Loss{SessionID: sessionID, ConnID: conn.ID(), Epoch: epoch, Reason: ReasonDisconnected})
	return true
}

// Bind registers conn as the session authority and starts the reconnection
// handshake. Superseding a live authority forces a resync, as does any
// earlier loss or restart.
func (m *Monitor) Bind(sessionID string, conn protocol.Peer) uint64 {
	prev, hadPrev := m.registry.Resolve(sessionID)
	epoch := m.registry.Register(sessionID, conn)
	if hadPrev && prev.ID() != conn.ID() {
		m.sessions.MarkAwaitingSync(sessionID)
		log.Info().Str("session_id", sessionID).Str("prev_conn_id", prev.ID()).Str("conn_id", conn.ID()).Msg("authority superseded")
	}
	log.Info().Str("session_id", sessionID).Str("conn_id", conn.ID()).Uint64("epoch", epoch).Msg("authority registered")

	m.ping(sessionID, conn, epoch)
	if version, awaiting := m.sessions.SyncStatus(sessionID); awaiting {
		err := conn.Send(protocol.SyncRequired{
			Type:             protocol.TypeSyncRequired,
			SessionID:        sessionID,
			LastKnownVersion: version,
		})
		if err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Str("conn_id", conn.ID()).Msg("sync_required send failed")
		}
	}
	return epoch
}

func (m *Monitor) lose(loss Loss) {
	m.sessions.MarkAwaitingSync(loss.SessionID)
	metrics.AuthorityLosses.WithLabelValues(loss.Reason).Inc()
	log.Warn().
		Str("session_id", loss.SessionID).
		Str("conn_id", loss.ConnID).
		Uint64("epoch", loss.Epoch).
		Str("reason", loss.Reason).
		Msg("authority lost")
	for _, l := range m.listeners {
		l.AuthorityLost(loss)
	}
}
