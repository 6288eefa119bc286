package broadcast

import (
	"errors"
	"sync"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"
)

// ErrAwaitingSnapshot is returned for updates that arrive while the replica
// is waiting for a full snapshot. Those updates are discarded.
var ErrAwaitingSnapshot = errors.New("awaiting_snapshot")

// Replica is a participant's verified copy of session state.
type Replica struct {
	mu          sync.Mutex
	sessionID   string
	state       gamestate.State
	version     string
	hash        string
	needsResync bool
}

func NewReplica(sessionID string) *Replica {
	return &Replica{
		sessionID: sessionID,
		state:     gamestate.New(),
		version:   gamestate.InitialVersion,
	}
}

// OnUpdate applies an update that directly follows the local version and
// whose hash matches after applying. Any failure puts the replica into
// resync mode.
func (r *Replica) OnUpdate(u protocol.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.needsResync {
		return ErrAwaitingSnapshot
	}
	if !gamestate.SameVersion(u.PreviousVersion, r.version) || !gamestate.IsSuccessor(r.version, u.Version) {
		r.needsResync = true
		return protocol.Errorf(protocol.CodeVersionConflict, "update %q->%q does not follow local version %q", u.PreviousVersion, u.Version, r.version)
	}
	var next gamestate.State
	switch {
	case u.State != nil:
		next = u.State.Clone()
	case u.Delta != nil:
		applied, err := gamestate.ApplyDelta(r.state, *u.Delta)
		if err != nil {
			r.needsResync = true
			return protocol.Errorf(protocol.CodeHashMismatch, "apply delta: %v", err)
		}
		next = applied
	default:
		r.needsResync = true
		return protocol.Errorf(protocol.CodeRoutingError, "update carries neither state nor delta")
	}
	if !gamestate.Verify(next, u.Hash) {
		r.needsResync = true
		return protocol.Errorf(protocol.CodeHashMismatch, "state hash mismatch at version %q", u.Version)
	}
	r.state = next
	r.version = u.Version
	r.hash = u.Hash
	return nil
}

// OnSnapshot replaces local state wholesale once the snapshot verifies.
func (r *Replica) OnSnapshot(s protocol.FullStateSnapshot) error {
	if !gamestate.Verify(s.State, s.Hash) {
		r.mu.Lock()
		r.needsResync = true
		r.mu.Unlock()
		return protocol.Errorf(protocol.CodeHashMismatch, "snapshot hash mismatch at version %q", s.Version)
	}
	if _, err := gamestate.ParseVersion(s.Version); err != nil {
		return protocol.Errorf(protocol.CodeRoutingError, "invalid snapshot version %q", s.Version)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s.State.Clone()
	r.version = s.Version
	r.hash = s.Hash
	r.needsResync = false
	return nil
}

// MarkStale forces the next snapshot to be requested, e.g. after joining a
// session that is already past the local version.
func (r *Replica) MarkStale() {
	r.mu.Lock()
	r.needsResync = true
	r.mu.Unlock()
}

func (r *Replica) NeedsResync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsResync
}

func (r *Replica) ResyncRequest() protocol.ResyncRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.ResyncRequest{
		Type:             protocol.TypeResyncRequest,
		SessionID:        r.sessionID,
		LastKnownVersion: r.version,
	}
}

// Snapshot returns a copy of the local state with its version and hash.
func (r *Replica) Snapshot() (gamestate.State, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), r.version, r.hash
}

func (r *Replica) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}
