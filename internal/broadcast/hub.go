package broadcast

import (
	"errors"
	"sync"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/heartbeat"
	"tabletop-sync/internal/metrics"
	"tabletop-sync/internal/protocol"
	"tabletop-sync/internal/session"

	"github.com/rs/zerolog/log"
)

// Session event names reported to observers.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventStateUpdated      = "state_updated"
	EventStateResynced     = "state_resynced"
	EventAuthorityBound    = "authority_bound"
	EventAuthorityLost     = "authority_lost"
	EventSessionEnded      = "session_ended"
)

type Sessions interface {
	Get(id string) (session.Session, bool)
	Update(id string, fn func(s *session.Session) error) error
}

type Resolver interface {
	Resolve(sessionID string) (protocol.Peer, bool)
}

// Observer receives protocol-level session events. It must not block.
type Observer interface {
	OnSessionEvent(sessionID, event string, data any)
}

// Hub fans state out to every connection of a session. The server keeps the
// last full state of each session so delta updates can be hashed.
type Hub struct {
	sessions    Sessions
	authorities Resolver
	observer    Observer

	mu    sync.Mutex
	feeds map[string]*feed
	peers map[string]protocol.Peer
}

type feed struct {
	mu    sync.Mutex
	peers map[string]protocol.Peer
	state *gamestate.State
}

func NewHub(sessions Sessions, authorities Resolver, observer Observer) *Hub {
	return &Hub{
		sessions:    sessions,
		authorities: authorities,
		observer:    observer,
		feeds:       map[string]*feed{},
		peers:       map[string]protocol.Peer{},
	}
}

func (h *Hub) feed(sessionID string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.feeds[sessionID]
	if f == nil {
		f = &feed{peers: map[string]protocol.Peer{}}
		h.feeds[sessionID] = f
	}
	return f
}

// existingFeed looks a feed up without creating it, so notifications that
// arrive after SessionEnded stay no-ops.
func (h *Hub) existingFeed(sessionID string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feeds[sessionID]
}

func (h *Hub) Join(sessionID string, p protocol.Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	h.mu.Unlock()
	f := h.feed(sessionID)
	f.mu.Lock()
	f.peers[p.ID()] = p
	f.mu.Unlock()
	h.emit(sessionID, EventParticipantJoined, map[string]any{"conn_id": p.ID(), "participant_id": p.ParticipantID()})
}

func (h *Hub) Leave(sessionID string, p protocol.Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID())
	f := h.feeds[sessionID]
	h.mu.Unlock()
	if f == nil {
		return
	}
	f.mu.Lock()
	delete(f.peers, p.ID())
	f.mu.Unlock()
	h.emit(sessionID, EventParticipantLeft, map[string]any{"conn_id": p.ID(), "participant_id": p.ParticipantID()})
}

// Peer finds a joined connection by id.
func (h *Hub) Peer(connID string) (protocol.Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[connID]
	return p, ok
}

func (h *Hub) PeerCount(sessionID string) int {
	f := h.existingFeed(sessionID)
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// Broadcast sends msg to every connection of the session except the one
// named by skip and returns how many sends succeeded. Sessions without a
// feed have no connections to reach.
func (h *Hub) Broadcast(sessionID string, msg any, skip string) int {
	f := h.existingFeed(sessionID)
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendAllLocked(sessionID, msg, skip)
}

func (f *feed) sendAllLocked(sessionID string, msg any, skip string) int {
	n := 0
	for id, p := range f.peers {
		if id == skip {
			continue
		}
		if err := p.Send(msg); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Str("conn_id", id).Msg("broadcast send failed")
			continue
		}
		n++
	}
	return n
}

func (h *Hub) requireAuthority(sessionID string, from protocol.Peer) error {
	auth, ok := h.authorities.Resolve(sessionID)
	if !ok {
		return protocol.Errorf(protocol.CodeGMNotConnected, "no authority connected")
	}
	if from == nil || auth.ID() != from.ID() {
		return protocol.Errorf(protocol.CodePermissionDenied, "only the session authority may publish state")
	}
	return nil
}

// ApplyAndBroadcast accepts a state update from the session authority,
// stamps it with the next version and the hash of the resulting full state,
// and sends it to every other connection of the session.
func (h *Hub) ApplyAndBroadcast(sessionID string, from protocol.Peer, upd protocol.StateUpdate) (protocol.StateUpdate, error) {
	kind := "full"
	if upd.State == nil {
		kind = "delta"
	}
	out, err := h.applyAndBroadcast(sessionID, from, upd)
	outcome := "ok"
	if err != nil {
		outcome = string(protocol.CodeOf(err))
	}
	metrics.StateUpdates.WithLabelValues(kind, outcome).Inc()
	return out, err
}

func (h *Hub) applyAndBroadcast(sessionID string, from protocol.Peer, upd protocol.StateUpdate) (protocol.StateUpdate, error) {
	if err := h.requireAuthority(sessionID, from); err != nil {
		return protocol.StateUpdate{}, err
	}
	f := h.existingFeed(sessionID)
	if f == nil {
		return protocol.StateUpdate{}, protocol.Errorf(protocol.CodeSessionNotFound, "session %q has no connections", sessionID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out protocol.StateUpdate
	var next gamestate.State
	err := h.sessions.Update(sessionID, func(s *session.Session) error {
		if s.Status == session.StatusEnded {
			return protocol.Errorf(protocol.CodeSessionNotFound, "session %q has ended", sessionID)
		}
		if s.AwaitingSync {
			return protocol.Errorf(protocol.CodeVersionConflict, "a full state snapshot is required before updates")
		}
		if !gamestate.SameVersion(upd.PreviousVersion, s.Version) {
			return protocol.Errorf(protocol.CodeVersionConflict, "previous version %q does not match current %q", upd.PreviousVersion, s.Version)
		}
		switch {
		case upd.State != nil:
			next = upd.State.Clone()
		case upd.Delta != nil:
			if f.state == nil {
				return protocol.Errorf(protocol.CodeVersionConflict, "no base state for delta; send a full snapshot")
			}
			applied, err := gamestate.ApplyDelta(*f.state, *upd.Delta)
			if err != nil {
				return protocol.Errorf(protocol.CodeRoutingError, "apply delta: %v", err)
			}
			next = applied
		default:
			return protocol.Errorf(protocol.CodeRoutingError, "state update carries neither state nor delta")
		}
		hash, err := gamestate.Hash(next)
		if err != nil {
			return protocol.Errorf(protocol.CodeRoutingError, "hash state: %v", err)
		}
		if upd.Hash != "" && upd.Hash != hash {
			return protocol.Errorf(protocol.CodeHashMismatch, "authority hash does not match published state")
		}
		version, err := gamestate.NextVersion(s.Version)
		if err != nil {
			return protocol.Errorf(protocol.CodeRoutingError, "next version: %v", err)
		}
		out = protocol.StateUpdate{
			Type:            protocol.TypeStateUpdate,
			SessionID:       sessionID,
			PreviousVersion: s.Version,
			Version:         version,
			Hash:            hash,
			State:           upd.State,
			Delta:           upd.Delta,
		}
		s.Version = version
		s.Hash = hash
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return protocol.StateUpdate{}, protocol.Errorf(protocol.CodeSessionNotFound, "session %q not found", sessionID)
		}
		return protocol.StateUpdate{}, err
	}
	f.state = &next
	n := f.sendAllLocked(sessionID, out, from.ID())
	log.Debug().Str("session_id", sessionID).Str("version", out.Version).Int("recipients", n).Msg("state update broadcast")
	h.emit(sessionID, EventStateUpdated, map[string]any{"version": out.Version, "hash": out.Hash})
	return out, nil
}

// RequestResync forwards a participant's resync request to the authority.
func (h *Hub) RequestResync(sessionID string, requester protocol.Peer, lastKnownVersion string) error {
	auth, ok := h.authorities.Resolve(sessionID)
	if !ok {
		metrics.ResyncRequests.WithLabelValues(string(protocol.CodeGMNotConnected)).Inc()
		return protocol.Errorf(protocol.CodeGMNotConnected, "no authority connected")
	}
	err := auth.Send(protocol.ResyncRequest{
		Type:             protocol.TypeResyncRequest,
		SessionID:        sessionID,
		LastKnownVersion: lastKnownVersion,
		RequesterID:      requester.ID(),
	})
	if err != nil {
		metrics.ResyncRequests.WithLabelValues(string(protocol.CodeGMNotConnected)).Inc()
		return protocol.Errorf(protocol.CodeGMNotConnected, "forward to authority failed")
	}
	metrics.ResyncRequests.WithLabelValues("ok").Inc()
	return nil
}

// DeliverSnapshot routes a full snapshot from the authority. Addressed
// snapshots go to their requester only; unaddressed ones reset the server's
// view of the session and are sent to everyone.
func (h *Hub) DeliverSnapshot(sessionID string, from protocol.Peer, snap protocol.FullStateSnapshot) error {
	err := h.deliverSnapshot(sessionID, from, snap)
	outcome := "ok"
	if err != nil {
		outcome = string(protocol.CodeOf(err))
	}
	metrics.StateUpdates.WithLabelValues("snapshot", outcome).Inc()
	return err
}

func (h *Hub) deliverSnapshot(sessionID string, from protocol.Peer, snap protocol.FullStateSnapshot) error {
	if err := h.requireAuthority(sessionID, from); err != nil {
		return err
	}
	if _, err := gamestate.ParseVersion(snap.Version); err != nil {
		return protocol.Errorf(protocol.CodeRoutingError, "invalid snapshot version %q", snap.Version)
	}
	state := snap.State.Clone()
	hash, err := gamestate.Hash(state)
	if err != nil {
		return protocol.Errorf(protocol.CodeRoutingError, "hash snapshot: %v", err)
	}
	if snap.Hash != "" && snap.Hash != hash {
		return protocol.Errorf(protocol.CodeHashMismatch, "snapshot hash does not match its state")
	}
	snap.Type = protocol.TypeFullStateSnapshot
	snap.SessionID = sessionID
	snap.Hash = hash

	f := h.existingFeed(sessionID)
	if f == nil {
		return protocol.Errorf(protocol.CodeSessionNotFound, "session %q has no connections", sessionID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if snap.RequesterID != "" {
		cur, ok := h.sessions.Get(sessionID)
		if !ok {
			return protocol.Errorf(protocol.CodeSessionNotFound, "session %q not found", sessionID)
		}
		if cur.AwaitingSync || !gamestate.SameVersion(cur.Version, snap.Version) {
			return protocol.Errorf(protocol.CodeVersionConflict, "snapshot version %q does not match current %q", snap.Version, cur.Version)
		}
		if cur.Hash != "" && cur.Hash != hash {
			return protocol.Errorf(protocol.CodeHashMismatch, "snapshot does not match the last broadcast state")
		}
		if f.state == nil {
			f.state = &state
		}
		target, ok := f.peers[snap.RequesterID]
		if !ok {
			return protocol.Errorf(protocol.CodeRoutingError, "requester %q is not connected", snap.RequesterID)
		}
		return target.Send(snap)
	}

	err = h.sessions.Update(sessionID, func(s *session.Session) error {
		if s.Status == session.StatusEnded {
			return protocol.Errorf(protocol.CodeSessionNotFound, "session %q has ended", sessionID)
		}
		if next, cur := mustParse(snap.Version), mustParse(s.Version); next < cur {
			return protocol.Errorf(protocol.CodeVersionConflict, "snapshot version %q is behind current %q", snap.Version, s.Version)
		}
		s.Version = gamestate.FormatVersion(mustParse(snap.Version))
		s.Hash = hash
		s.AwaitingSync = false
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return protocol.Errorf(protocol.CodeSessionNotFound, "session %q not found", sessionID)
		}
		return err
	}
	f.state = &state
	n := f.sendAllLocked(sessionID, snap, from.ID())
	log.Info().Str("session_id", sessionID).Str("version", snap.Version).Int("recipients", n).Msg("session resynced from authority snapshot")
	h.emit(sessionID, EventStateResynced, map[string]any{"version": snap.Version, "hash": hash})
	return nil
}

// AuthorityLost implements heartbeat.Listener. An expired authority may
// still be connected, so it is told too and can rebind. A disconnected one is
// skipped.
func (h *Hub) AuthorityLost(loss heartbeat.Loss) {
	if h.existingFeed(loss.SessionID) == nil {
		return
	}
	msg := protocol.AuthorityLost{
		Type:      protocol.TypeAuthorityLost,
		SessionID: loss.SessionID,
		Reason:    protocol.CodeGMDisconnected,
	}
	skip := loss.ConnID
	if loss.Reason == heartbeat.ReasonExpired {
		skip = ""
	}
	h.Broadcast(loss.SessionID, msg, skip)
	h.emit(loss.SessionID, EventAuthorityLost, map[string]any{"conn_id": loss.ConnID, "epoch": loss.Epoch, "reason": loss.Reason})
}

func (h *Hub) AuthorityBound(sessionID string, conn protocol.Peer, epoch uint64) {
	h.emit(sessionID, EventAuthorityBound, map[string]any{"conn_id": conn.ID(), "epoch": epoch})
}

// SessionEnded notifies every connection and forgets the session's feed.
func (h *Hub) SessionEnded(sessionID string) {
	h.mu.Lock()
	f := h.feeds[sessionID]
	delete(h.feeds, sessionID)
	h.mu.Unlock()
	if f != nil {
		f.mu.Lock()
		f.sendAllLocked(sessionID, protocol.SessionEnded{Type: protocol.TypeSessionEnded, SessionID: sessionID}, "")
		f.mu.Unlock()
	}
	h.emit(sessionID, EventSessionEnded, nil)
}

func (h *Hub) emit(sessionID, event string, data any) {
	if h.observer != nil {
		h.observer.OnSessionEvent(sessionID, event, data)
	}
}

func mustParse(v string) uint64 {
	n, _ := gamestate.ParseVersion(v)
	return n
}
