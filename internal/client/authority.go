package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/rs/zerolog/log"
)

// ErrDemoted is returned by Run when the server reports that this connection
// no longer holds authority. Callers should reconnect to bind again.
var ErrDemoted = errors.New("authority_demoted")

// Authority is the GM-side runtime. It owns the canonical game state,
// executes forwarded actions through an ActionHandler and publishes the
// resulting changes through the server.
type Authority struct {
	conn    Conn
	handler ActionHandler

	mu           sync.Mutex
	sessionID    string
	state        gamestate.State
	version      string
	lastSnapshot string // version of the last unaddressed snapshot on conn
}

func NewAuthority(handler ActionHandler, initial gamestate.State) *Authority {
	return &Authority{
		handler: handler,
		state:   initial.Clone(),
		version: gamestate.InitialVersion,
	}
}

// State returns a copy of the authoritative state and its version.
func (a *Authority) State() (gamestate.State, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone(), a.version
}

// Run processes server frames from conn until ctx ends, the session ends or
// the connection fails. State survives across runs so a reconnecting GM can
// call Run again with a fresh connection. Only Run writes to conn.
func (a *Authority) Run(ctx context.Context, conn Conn) error {
	a.mu.Lock()
	a.conn = conn
	a.lastSnapshot = ""
	a.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		done, err := a.handle(ctx, raw)
		if errors.Is(err, ErrDemoted) {
			_ = conn.Close()
			return err
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (a *Authority) handle(ctx context.Context, raw []byte) (bool, error) {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		log.Debug().Err(err).Msg("authority: malformed frame ignored")
		return false, nil
	}
	switch typ {
	case protocol.TypeSessionJoined:
		var joined protocol.SessionJoined
		if err := json.Unmarshal(raw, &joined); err != nil {
			return false, nil
		}
		return false, a.onJoined(joined)
	case protocol.TypeHeartbeatPing:
		var ping protocol.HeartbeatPing
		if err := json.Unmarshal(raw, &ping); err != nil {
			return false, nil
		}
		return false, a.conn.WriteJSON(protocol.HeartbeatPong{
			Type:      protocol.TypeHeartbeatPong,
			SessionID: ping.SessionID,
			Epoch:     ping.Epoch,
		})
	case protocol.TypeActionForward:
		var req protocol.ActionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return false, nil
		}
		return false, a.onAction(ctx, req)
	case protocol.TypeResyncRequest:
		var req protocol.ResyncRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return false, nil
		}
		return false, a.sendSnapshot(req.RequesterID, "")
	case protocol.TypeSyncRequired:
		var req protocol.SyncRequired
		if err := json.Unmarshal(raw, &req); err != nil {
			return false, nil
		}
		return false, a.sendSnapshot("", req.LastKnownVersion)
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return false, nil
		}
		log.Warn().Str("code", string(msg.Code)).Str("message", msg.Message).Msg("authority: server rejected frame")
		if protocol.RequiresResync(msg.Code) {
			return false, a.sendSnapshot("", msg.CurrentVersion)
		}
		return false, nil
	case protocol.TypeAuthorityLost:
		var lost protocol.AuthorityLost
		if err := json.Unmarshal(raw, &lost); err != nil {
			return false, nil
		}
		log.Warn().Str("session_id", lost.SessionID).Str("reason", string(lost.Reason)).Msg("authority: demoted by server")
		return false, ErrDemoted
	case protocol.TypeSessionEnded:
		return true, nil
	}
	return false, nil
}

func (a *Authority) onJoined(joined protocol.SessionJoined) error {
	a.mu.Lock()
	a.sessionID = joined.SessionID
	fresh := gamestate.SameVersion(joined.Version, gamestate.InitialVersion) &&
		gamestate.SameVersion(a.version, gamestate.InitialVersion)
	a.mu.Unlock()
	log.Info().Str("session_id", joined.SessionID).Str("server_version", joined.Version).Msg("authority joined")
	if !fresh {
		// A server that is behind or ahead will ask for a snapshot.
		return nil
	}
	return a.publishFull()
}

// publishFull sends the whole state as the next version.
func (a *Authority) publishFull() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := gamestate.NextVersion(a.version)
	if err != nil {
		return err
	}
	hash, err := gamestate.Hash(a.state)
	if err != nil {
		return err
	}
	st := a.state.Clone()
	err = a.conn.WriteJSON(protocol.StateUpdate{
		Type:            protocol.TypeStateUpdate,
		SessionID:       a.sessionID,
		PreviousVersion: a.version,
		Hash:            hash,
		State:           &st,
	})
	if err != nil {
		return err
	}
	a.version = next
	return nil
}

func (a *Authority) onAction(ctx context.Context, req protocol.ActionRequest) error {
	current, _ := a.State()
	if err := a.handler.Validate(ctx, req, current); err != nil {
		return a.conn.WriteJSON(protocol.FailedResult(req.ID, rejection(err)))
	}
	out, err := a.handler.Execute(ctx, req, current)
	if err != nil {
		return a.conn.WriteJSON(protocol.FailedResult(req.ID, rejection(err)))
	}
	if !out.Delta.IsEmpty() {
		if err := a.publishDelta(out.Delta); err != nil {
			if errors.Is(err, gamestate.ErrUnknownScope) {
				return a.conn.WriteJSON(protocol.FailedResult(req.ID, rejection(err)))
			}
			return err
		}
	}
	return a.conn.WriteJSON(protocol.SucceededResult(req.ID, out.Data))
}

func (a *Authority) publishDelta(d gamestate.Delta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := gamestate.ApplyDelta(a.state, d)
	if err != nil {
		return err
	}
	hash, err := gamestate.Hash(next)
	if err != nil {
		return err
	}
	version, err := gamestate.NextVersion(a.version)
	if err != nil {
		return err
	}
	err = a.conn.WriteJSON(protocol.StateUpdate{
		Type:            protocol.TypeStateUpdate,
		SessionID:       a.sessionID,
		PreviousVersion: a.version,
		Hash:            hash,
		Delta:           &d,
	})
	if err != nil {
		return err
	}
	a.state = next
	a.version = version
	return nil
}

// sendSnapshot answers a participant's resync when requester is set.
// Otherwise it resets the server, never moving the version backwards from
// what the server last knew.
func (a *Authority) sendSnapshot(requester, serverVersion string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requester == "" {
		if higher(serverVersion, a.version) {
			a.version = gamestate.FormatVersion(mustParse(serverVersion))
		}
		if a.lastSnapshot != "" && a.lastSnapshot == a.version {
			return nil
		}
	}
	hash, err := gamestate.Hash(a.state)
	if err != nil {
		return err
	}
	err = a.conn.WriteJSON(protocol.FullStateSnapshot{
		Type:        protocol.TypeFullStateSnapshot,
		SessionID:   a.sessionID,
		Version:     gamestate.FormatVersion(mustParse(a.version)),
		Hash:        hash,
		State:       a.state.Clone(),
		RequesterID: requester,
	})
	if err != nil {
		return err
	}
	if requester == "" {
		a.lastSnapshot = a.version
	}
	return nil
}

func rejection(err error) *protocol.Error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe
	}
	return &protocol.Error{Code: protocol.CodeActionRejected, Message: err.Error()}
}

func higher(a, b string) bool {
	na, err := gamestate.ParseVersion(a)
	if err != nil {
		return false
	}
	nb, err := gamestate.ParseVersion(b)
	if err != nil {
		return true
	}
	return na > nb
}

func mustParse(v string) uint64 {
	n, _ := gamestate.ParseVersion(v)
	return n
}
